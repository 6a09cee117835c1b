package lead

import (
	"errors"
	"fmt"
	"math"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
)

const (
	// DefaultLatencyTicks compensates the command-to-actuation lag of the gunnery loop.
	DefaultLatencyTicks = 2.0
	// DefaultMaxIters bounds the fixed-point iteration.
	DefaultMaxIters = 8

	// velocityEpsilon is the speed (blocks/tick) below which motion is treated as sensor noise.
	velocityEpsilon = 0.01
	// convergenceTolerance is the flight-time change, in ticks, that ends the iteration.
	convergenceTolerance = 0.5
)

var (
	// ErrMissingInput reports an absent or non-finite shooter, target or ballistics input.
	ErrMissingInput = errors.New("lead: missing input")
	// ErrInvalidBallistics reports a shot that cannot be flown, typically no ammunition loaded.
	ErrInvalidBallistics = errors.New("lead: invalid ballistics")
)

// Model selects how shooter and target motion are extrapolated.
type Model int

const (
	// ConstantVelocity ignores acceleration on both bodies.
	ConstantVelocity Model = iota
	// ConstantAcceleration extrapolates both bodies under their reported acceleration.
	ConstantAcceleration
)

// String returns the wire name of the model.
func (m Model) String() string {
	if m == ConstantAcceleration {
		return "acceleration"
	}
	return "velocity"
}

// ParseModel maps a wire name back to a Model, defaulting to ConstantVelocity.
func ParseModel(raw string) Model {
	if raw == "acceleration" || raw == "accel" {
		return ConstantAcceleration
	}
	return ConstantVelocity
}

// Inputs gathers everything a single solve consumes. Nil pointers mean the value is absent.
type Inputs struct {
	Shooter        *physics.KinematicState
	Target         *physics.KinematicState
	Ballistics     *ballistics.Params
	FireDelayTicks int
	MaxSimDistance float64
	Model          Model
	// Label identifies the mount in diagnostics.
	Label string
}

// Solution is the aim that lands a projectile fired after the fire delay on the target.
type Solution struct {
	AimPoint    physics.Vec3 `json:"aim_point"`
	YawRad      float64      `json:"yaw_rad"`
	PitchDeg    float64      `json:"pitch_deg"`
	FlightTicks int          `json:"flight_ticks"`
	Iterations  int          `json:"iterations"`
	Converged   bool         `json:"converged"`
	// Direct marks the stationary-target bypass, where no lead was computed.
	Direct bool `json:"direct"`
}

// Direction returns the unit firing direction implied by the solution.
func (s Solution) Direction() physics.Vec3 {
	return physics.DirFromYawPitch(s.YawRad, physics.Radians(s.PitchDeg))
}

// Solver converges flight time, yaw, pitch and aim point jointly. It holds only
// configuration and is safe for concurrent use.
type Solver struct {
	latencyTicks float64
	maxIters     int
	applyDrag    bool
	pitch        ballistics.PitchSolver
	integrator   ballistics.Integrator
	logger       *logging.Logger
}

// Option customises a Solver.
type Option func(*Solver)

// WithLatencyTicks overrides the extra lead added on top of flight time. Negative values are ignored.
func WithLatencyTicks(ticks float64) Option {
	return func(s *Solver) {
		if ticks >= 0 && !math.IsInf(ticks, 0) {
			s.latencyTicks = ticks
		}
	}
}

// WithMaxIters overrides the iteration cap. Values below one are ignored.
func WithMaxIters(iters int) Option {
	return func(s *Solver) {
		if iters >= 1 {
			s.maxIters = iters
		}
	}
}

// WithPitchSolver replaces the ballistic pitch root finder.
func WithPitchSolver(pitch ballistics.PitchSolver) Option {
	return func(s *Solver) {
		if pitch != nil {
			s.pitch = pitch
		}
	}
}

// WithIntegrator replaces the projectile simulator.
func WithIntegrator(integrator ballistics.Integrator) Option {
	return func(s *Solver) {
		if integrator != nil {
			s.integrator = integrator
		}
	}
}

// WithDrag toggles the simulator's linear damping.
func WithDrag(enabled bool) Option {
	return func(s *Solver) { s.applyDrag = enabled }
}

// WithLogger routes solver diagnostics to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Solver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSolver builds a solver with the default latency, iteration cap, vacuum pitch
// solver and linear-drag simulator.
func NewSolver(opts ...Option) *Solver {
	solver := &Solver{
		latencyTicks: DefaultLatencyTicks,
		maxIters:     DefaultMaxIters,
		applyDrag:    true,
		pitch:        ballistics.VacuumPitchSolver{},
		integrator:   ballistics.LinearDrag,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(solver)
		}
	}
	return solver
}

// LatencyTicks reports the configured latency lead.
func (s *Solver) LatencyTicks() float64 { return s.latencyTicks }

// MaxIters reports the configured iteration cap.
func (s *Solver) MaxIters() int { return s.maxIters }

// SolveConstantVelocity solves with both bodies moving at constant velocity. Any
// acceleration in the inputs is ignored. Units: blocks and ticks.
func (s *Solver) SolveConstantVelocity(shooter, target *physics.KinematicState, params *ballistics.Params, fireDelayTicks int, maxSimDistance float64) (Solution, error) {
	return s.Solve(Inputs{
		Shooter:        shooter,
		Target:         target,
		Ballistics:     params,
		FireDelayTicks: fireDelayTicks,
		MaxSimDistance: maxSimDistance,
		Model:          ConstantVelocity,
	})
}

// SolveWithAcceleration solves with both bodies under constant acceleration. Units: blocks and ticks.
func (s *Solver) SolveWithAcceleration(shooter, target *physics.KinematicState, params *ballistics.Params, fireDelayTicks int, maxSimDistance float64) (Solution, error) {
	return s.Solve(Inputs{
		Shooter:        shooter,
		Target:         target,
		Ballistics:     params,
		FireDelayTicks: fireDelayTicks,
		MaxSimDistance: maxSimDistance,
		Model:          ConstantAcceleration,
	})
}

// Solve runs the lead iteration for in. It returns ErrMissingInput or
// ErrInvalidBallistics when no solution can exist; running out of iterations is not
// an error and is reported through Solution.Converged.
func (s *Solver) Solve(in Inputs) (Solution, error) {
	//1.- Reject absent inputs before touching any of them.
	if in.Shooter == nil || in.Target == nil || in.Ballistics == nil {
		return Solution{}, s.reject(in, ErrMissingInput)
	}
	if !in.Shooter.IsFinite() || !in.Target.IsFinite() {
		return Solution{}, s.reject(in, fmt.Errorf("%w: non-finite kinematic state", ErrMissingInput))
	}
	params := *in.Ballistics
	if err := params.Validate(); err != nil {
		return Solution{}, s.reject(in, fmt.Errorf("%w: %v", ErrInvalidBallistics, err))
	}

	shooter, target := *in.Shooter, *in.Target
	if in.Model == ConstantVelocity {
		shooter = shooter.WithoutAcceleration()
		target = target.WithoutAcceleration()
	}
	//2.- A shooter crawling below the noise floor is treated as parked.
	if shooter.Vel.LengthSq() < velocityEpsilon*velocityEpsilon {
		shooter.Vel = physics.Vec3{}
		shooter.Accel = physics.Vec3{}
	}

	fireDelay := float64(in.FireDelayTicks)
	if fireDelay < 0 {
		fireDelay = 0
	}
	shooterAtFire := shooter.Advance(fireDelay)

	//3.- A stationary target needs no lead; iterating would only add drift.
	if target.Vel.LengthSq() < velocityEpsilon*velocityEpsilon {
		return directAim(shooterAtFire.Pos, target.Pos), nil
	}

	//4.- Anchor the target-relative state at fire time.
	rel := target.Advance(fireDelay).RelativeTo(shooterAtFire)
	tGuess := physics.Horizontal(rel.Pos) / params.MuzzleSpeed

	var solution Solution
	for iter := 0; iter < s.maxIters; iter++ {
		aimPoint := shooterAtFire.Pos.Add(leadAtImpact(rel, tGuess, s.latencyTicks))
		toPred := aimPoint.Sub(shooterAtFire.Pos)
		yaw := physics.YawFromVec(toPred)
		pitch := physics.PitchFromVec(toPred)
		if roots := s.pitch.PitchCandidates(shooterAtFire.Pos, aimPoint, params); len(roots) > 0 && !math.IsNaN(roots[0]) {
			pitch = physics.Radians(roots[0])
		}

		sim := s.integrator.Simulate(s.shotSetup(shooterAtFire, aimPoint, yaw, pitch, params, in.MaxSimDistance))

		solution = Solution{
			AimPoint:    aimPoint,
			YawRad:      yaw,
			PitchDeg:    physics.Degrees(pitch),
			FlightTicks: sim.Ticks,
			Iterations:  iter + 1,
		}
		//5.- Stop once the simulated flight time agrees with the guess.
		if math.Abs(float64(sim.Ticks)-tGuess) < convergenceTolerance {
			solution.Converged = true
			break
		}
		tGuess = float64(sim.Ticks)
	}

	if !solution.Converged {
		s.log().Debug("lead solve hit iteration cap",
			logging.String("mount", in.Label),
			logging.Int("iterations", solution.Iterations),
			logging.Int("flight_ticks", solution.FlightTicks),
		)
	}
	return solution, nil
}

// Trace samples the flight path of sol every `every` ticks, starting at the muzzle.
// The shooter is extrapolated to fire time exactly as Solve does, so the last
// point lies near the aim point for a converged solution.
func (s *Solver) Trace(in Inputs, sol Solution, every int) ([]physics.Vec3, error) {
	if in.Shooter == nil || in.Ballistics == nil {
		return nil, ErrMissingInput
	}
	if !in.Shooter.IsFinite() {
		return nil, fmt.Errorf("%w: non-finite kinematic state", ErrMissingInput)
	}
	params := *in.Ballistics
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBallistics, err)
	}
	shooter := *in.Shooter
	if in.Model == ConstantVelocity {
		shooter = shooter.WithoutAcceleration()
	}
	if shooter.Vel.LengthSq() < velocityEpsilon*velocityEpsilon {
		shooter.Vel = physics.Vec3{}
		shooter.Accel = physics.Vec3{}
	}
	fireDelay := math.Max(float64(in.FireDelayTicks), 0)
	setup := s.shotSetup(shooter.Advance(fireDelay), sol.AimPoint, sol.YawRad, physics.Radians(sol.PitchDeg), params, in.MaxSimDistance)
	return ballistics.Trajectory(setup, every), nil
}

func (s *Solver) shotSetup(shooterAtFire physics.KinematicState, aimPoint physics.Vec3, yaw, pitch float64, params ballistics.Params, maxSimDistance float64) ballistics.ShotSetup {
	dir := physics.DirFromYawPitch(yaw, pitch)
	muzzle := shooterAtFire.Pos.Add(dir.Scale(params.BarrelLength))
	horiz := physics.Horizontal(aimPoint.Sub(muzzle))
	return ballistics.ShotSetup{
		Muzzle:       muzzle,
		CarrierVel:   shooterAtFire.Vel,
		Dir:          dir,
		Params:       params,
		Target:       aimPoint,
		StopDistance: horiz,
		MaxTicks:     ballistics.SimBudget(horiz, params.MuzzleSpeed, maxSimDistance),
		ApplyDrag:    s.applyDrag,
	}
}

// leadAtImpact predicts the target position relative to the shooter's fire-time
// position. rel is already anchored at fire time, so it advances by flight plus
// latency only and never by the fire delay.
func leadAtImpact(rel physics.KinematicState, flightTicks, latencyTicks float64) physics.Vec3 {
	return physics.AdvancePos(rel.Pos, rel.Vel, rel.Accel, flightTicks+latencyTicks)
}

func directAim(shooterAtFire, targetNow physics.Vec3) Solution {
	to := targetNow.Sub(shooterAtFire)
	return Solution{
		AimPoint:    targetNow,
		YawRad:      physics.YawFromVec(to),
		PitchDeg:    physics.Degrees(physics.PitchFromVec(to)),
		FlightTicks: 0,
		Converged:   true,
		Direct:      true,
	}
}

func (s *Solver) reject(in Inputs, err error) error {
	fields := []logging.Field{logging.String("mount", in.Label), logging.Error(err)}
	if in.Ballistics != nil {
		fields = append(fields, logging.Float64("muzzle_speed", in.Ballistics.MuzzleSpeed))
	}
	s.log().Debug("lead solve rejected", fields...)
	return err
}

func (s *Solver) log() *logging.Logger {
	if s.logger == nil {
		return logging.L()
	}
	return s.logger
}
