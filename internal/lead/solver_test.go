package lead

import (
	"errors"
	"math"
	"testing"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
)

func state(pos, vel physics.Vec3) *physics.KinematicState {
	return &physics.KinematicState{Pos: pos, Vel: vel}
}

func flat(speed float64) *ballistics.Params {
	return &ballistics.Params{MuzzleSpeed: speed}
}

func TestStationaryTargetAimsDirectly(t *testing.T) {
	solver := NewSolver()
	solution, err := solver.SolveConstantVelocity(state(physics.Zero, physics.Zero), state(physics.V3(100, 0, 0), physics.Zero), flat(4), 0, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if solution.FlightTicks != 0 || !solution.Direct {
		t.Fatalf("expected direct aim with zero flight time, got %+v", solution)
	}
	if solution.AimPoint != physics.V3(100, 0, 0) {
		t.Fatalf("expected aim at target, got %+v", solution.AimPoint)
	}
	if math.Abs(solution.YawRad) > 1e-9 || math.Abs(solution.PitchDeg) > 1e-9 {
		t.Fatalf("expected level aim along +X, got yaw=%f pitch=%f", solution.YawRad, solution.PitchDeg)
	}
}

func TestStationaryTargetUsesShooterPositionAtFire(t *testing.T) {
	solver := NewSolver()
	shooter := state(physics.Zero, physics.V3(0, 0, 1))
	solution, err := solver.SolveConstantVelocity(shooter, state(physics.V3(100, 0, 0), physics.V3(0.001, 0, 0)), flat(4), 100, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if solution.AimPoint != physics.V3(100, 0, 0) {
		t.Fatalf("direct aim must keep the target's current position, got %+v", solution.AimPoint)
	}
	//1.- The shooter will sit at z=100 when firing, so the yaw swings back toward -Z.
	if math.Abs(solution.YawRad-math.Atan2(-100, 100)) > 1e-9 {
		t.Fatalf("unexpected yaw %f", solution.YawRad)
	}
}

func TestCrossingTargetConverges(t *testing.T) {
	solver := NewSolver(WithLatencyTicks(0), WithMaxIters(8))
	solution, err := solver.SolveConstantVelocity(state(physics.Zero, physics.Zero), state(physics.V3(100, 0, 0), physics.V3(0, 0, 1)), flat(4), 0, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !solution.Converged {
		t.Fatalf("expected convergence, got %+v", solution)
	}
	if math.Abs(float64(solution.FlightTicks)-25) > 1.5 {
		t.Fatalf("expected roughly 25 ticks of flight, got %d", solution.FlightTicks)
	}
	if math.Abs(solution.AimPoint.Z-float64(solution.FlightTicks)) > 1e-9 {
		t.Fatalf("aim point should lead by one block per flight tick, got %+v", solution.AimPoint)
	}
	if solution.YawRad <= 0 || solution.YawRad >= math.Pi/2 {
		t.Fatalf("expected yaw between the X and Z axes, got %f", solution.YawRad)
	}
}

func TestFallingShotAimsDownOnLowArc(t *testing.T) {
	solver := NewSolver()
	params := &ballistics.Params{MuzzleSpeed: 4, Gravity: -0.05}
	// A slow drift keeps the solver iterating instead of taking the direct-aim path.
	target := state(physics.V3(80, 0, 0), physics.V3(0, 0, 0.02))
	solution, err := solver.SolveConstantVelocity(state(physics.V3(0, 50, 0), physics.Zero), target, params, 0, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !solution.Converged {
		t.Fatalf("expected convergence, got %+v", solution)
	}
	if solution.PitchDeg >= 0 {
		t.Fatalf("expected a downward pitch, got %f", solution.PitchDeg)
	}
	if solution.FlightTicks < 18 || solution.FlightTicks > 26 {
		t.Fatalf("expected roughly 20 ticks of flight, got %d", solution.FlightTicks)
	}
	if math.Abs(solution.AimPoint.X-80) > 1e-9 || math.Abs(solution.AimPoint.Y) > 1e-9 {
		t.Fatalf("aim point should stay on the target track, got %+v", solution.AimPoint)
	}
}

func TestDelayedFireLeadsFromFireTimePosition(t *testing.T) {
	solver := NewSolver(WithLatencyTicks(0))
	solution, err := solver.SolveConstantVelocity(state(physics.Zero, physics.Zero), state(physics.V3(100, 0, 0), physics.V3(1, 0, 0)), flat(4), 10, 512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !solution.Converged {
		t.Fatalf("expected convergence, got %+v", solution)
	}
	want := 110 + float64(solution.FlightTicks)
	if math.Abs(solution.AimPoint.X-want) > 1e-9 {
		t.Fatalf("expected aim x %f measured from the fire-time position, got %f", want, solution.AimPoint.X)
	}
	if solution.FlightTicks != 37 {
		t.Fatalf("expected 37 ticks of flight, got %d", solution.FlightTicks)
	}
}

func TestFireTimeAnchoringShiftsAimByTargetVelocity(t *testing.T) {
	solver := NewSolver()
	vel := physics.V3(0, 0, 0.5)
	shooter := state(physics.Zero, vel)
	target := state(physics.V3(90, 0, 0), vel)

	near, err := solver.SolveConstantVelocity(shooter, target, flat(4), 5, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	far, err := solver.SolveConstantVelocity(shooter, target, flat(4), 10, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !near.Converged || !far.Converged {
		t.Fatalf("expected both solves to converge: %+v %+v", near, far)
	}
	shift := far.AimPoint.Sub(near.AimPoint)
	if shift.Sub(vel.Scale(5)).Length() > 1e-9 {
		t.Fatalf("expected aim shift %+v, got %+v", vel.Scale(5), shift)
	}
}

func TestMissingInputsAreRejected(t *testing.T) {
	solver := NewSolver(WithLogger(logging.NewTestLogger()))
	valid := state(physics.V3(10, 0, 0), physics.V3(0, 0, 1))
	cases := []struct {
		name    string
		shooter *physics.KinematicState
		target  *physics.KinematicState
		params  *ballistics.Params
	}{
		{name: "nil shooter", target: valid, params: flat(4)},
		{name: "nil target", shooter: valid, params: flat(4)},
		{name: "nil ballistics", shooter: valid, target: valid},
		{name: "nan target", shooter: valid, target: state(physics.V3(math.NaN(), 0, 0), physics.Zero), params: flat(4)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := solver.SolveConstantVelocity(tc.shooter, tc.target, tc.params, 0, 128); !errors.Is(err, ErrMissingInput) {
				t.Fatalf("expected ErrMissingInput, got %v", err)
			}
		})
	}
}

func TestZeroMuzzleSpeedHasNoSolution(t *testing.T) {
	solver := NewSolver()
	_, err := solver.SolveWithAcceleration(state(physics.Zero, physics.Zero), state(physics.V3(50, 0, 0), physics.V3(0, 0, 1)), flat(0), 0, 128)
	if !errors.Is(err, ErrInvalidBallistics) {
		t.Fatalf("expected ErrInvalidBallistics, got %v", err)
	}
}

func TestSolutionDirectionIsUnitLength(t *testing.T) {
	solver := NewSolver()
	params := &ballistics.Params{MuzzleSpeed: 3, Gravity: -0.05, Drag: 0.01, BarrelLength: 4}
	shooter := &physics.KinematicState{Pos: physics.V3(5, 64, -3), Vel: physics.V3(0.2, 0, 0.1), Accel: physics.V3(0, 0, 0.01)}
	target := &physics.KinematicState{Pos: physics.V3(60, 70, 40), Vel: physics.V3(-0.3, 0.05, 0.4), Accel: physics.V3(0.01, 0, 0)}
	solution, err := solver.SolveWithAcceleration(shooter, target, params, 3, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(solution.Direction().Length()-1) > 1e-9 {
		t.Fatalf("expected unit direction, got %f", solution.Direction().Length())
	}

	//1.- Identical inputs must reproduce the same answer.
	again, err := solver.SolveWithAcceleration(shooter, target, params, 3, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != solution {
		t.Fatalf("expected deterministic output, got %+v then %+v", solution, again)
	}
}

func TestWorkIsBoundedByIterationsAndBudget(t *testing.T) {
	var steps, calls, maxBudget int
	counting := ballistics.IntegratorFunc(func(setup ballistics.ShotSetup) ballistics.SimResult {
		calls++
		if setup.MaxTicks > maxBudget {
			maxBudget = setup.MaxTicks
		}
		result := ballistics.Simulate(setup)
		steps += result.Ticks
		return result
	})
	solver := NewSolver(WithIntegrator(counting), WithMaxIters(4))
	params := &ballistics.Params{MuzzleSpeed: 2, Gravity: -0.05, Drag: 0.02}
	_, err := solver.SolveConstantVelocity(state(physics.Zero, physics.Zero), state(physics.V3(150, 10, 30), physics.V3(-0.5, 0, 0.8)), params, 0, 400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls > 4 {
		t.Fatalf("expected at most 4 simulations, got %d", calls)
	}
	if steps > 4*maxBudget {
		t.Fatalf("expected at most %d steps, got %d", 4*maxBudget, steps)
	}
}

func TestIterationCapReportsNonConvergence(t *testing.T) {
	flip := 0
	oscillating := ballistics.IntegratorFunc(func(ballistics.ShotSetup) ballistics.SimResult {
		flip++
		return ballistics.SimResult{Ticks: 10 + 10*(flip%2)}
	})
	solver := NewSolver(WithIntegrator(oscillating), WithMaxIters(5), WithLogger(logging.NewTestLogger()))
	solution, err := solver.SolveConstantVelocity(state(physics.Zero, physics.Zero), state(physics.V3(40, 0, 0), physics.V3(0, 0, 1)), flat(4), 0, 128)
	if err != nil {
		t.Fatalf("non-convergence must not be an error: %v", err)
	}
	if solution.Converged || solution.Iterations != 5 {
		t.Fatalf("expected five unconverged iterations, got %+v", solution)
	}
}

func TestLeadAtImpactIgnoresFireDelay(t *testing.T) {
	rel := physics.KinematicState{Pos: physics.V3(10, 0, 0), Vel: physics.V3(1, 0, 0)}
	got := leadAtImpact(rel, 5, 2)
	if got != physics.V3(17, 0, 0) {
		t.Fatalf("expected advance by flight plus latency, got %+v", got)
	}
}

func TestLeadReportMeasuresAlongTrack(t *testing.T) {
	target := physics.KinematicState{Pos: physics.V3(100, 0, 0), Vel: physics.V3(0, 0, 2)}
	report := LeadReport(Solution{AimPoint: physics.V3(100, 0, 30)}, target)
	if report.Total != 30 || report.Along != 30 {
		t.Fatalf("expected 30 blocks of lead along track, got %+v", report)
	}
	if ParseModel(ConstantAcceleration.String()) != ConstantAcceleration {
		t.Fatalf("model names must round-trip")
	}
}

func TestTraceFollowsSolutionToAimPoint(t *testing.T) {
	solver := NewSolver(WithLatencyTicks(0))
	in := Inputs{
		Shooter:        state(physics.Zero, physics.Zero),
		Target:         state(physics.V3(100, 0, 0), physics.V3(0, 0, 1)),
		Ballistics:     flat(4),
		MaxSimDistance: 256,
	}
	solution, err := solver.Solve(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	points, err := solver.Trace(in, solution, 5)
	if err != nil {
		t.Fatalf("unexpected trace error: %v", err)
	}
	if len(points) < 2 {
		t.Fatalf("expected muzzle and impact points, got %d", len(points))
	}
	if points[0] != physics.Zero {
		t.Fatalf("trace must start at the muzzle, got %+v", points[0])
	}
	//1.- The last sample lands within one tick of travel of the aim point.
	if miss := points[len(points)-1].Sub(solution.AimPoint).Length(); miss > 4 {
		t.Fatalf("trace ends %f blocks from the aim point", miss)
	}
	if _, err := solver.Trace(Inputs{}, solution, 5); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected missing input, got %v", err)
	}
}

func fixedFlight(ticks int) ballistics.Integrator {
	return ballistics.IntegratorFunc(func(ballistics.ShotSetup) ballistics.SimResult {
		return ballistics.SimResult{Ticks: ticks}
	})
}

func TestAccelerationModelAnchorsRelativeStateAtFireTime(t *testing.T) {
	cases := []struct {
		name    string
		shooter physics.KinematicState
		target  physics.KinematicState
		delay   int
	}{
		{
			name:   "accelerating target",
			target: physics.KinematicState{Pos: physics.V3(100, 0, 0), Vel: physics.V3(0, 0, 1), Accel: physics.V3(0, 0, 0.2)},
		},
		{
			name:    "both accelerating with delay",
			shooter: physics.KinematicState{Vel: physics.V3(0.5, 0, 0), Accel: physics.V3(0, 0, 0.1)},
			target:  physics.KinematicState{Pos: physics.V3(120, 0, 0), Vel: physics.V3(0, 0, 1), Accel: physics.V3(0.05, 0, 0)},
			delay:   5,
		},
		{
			name:    "shared acceleration cancels",
			shooter: physics.KinematicState{Vel: physics.V3(0, 0, 0.5), Accel: physics.V3(0, -0.01, 0)},
			target:  physics.KinematicState{Pos: physics.V3(80, 10, 0), Vel: physics.V3(0, 0, 0.5), Accel: physics.V3(0, -0.01, 0)},
			delay:   3,
		},
	}
	solver := NewSolver(WithIntegrator(fixedFlight(20)), WithLatencyTicks(2))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shooter, target := tc.shooter, tc.target
			solution, err := solver.SolveWithAcceleration(&shooter, &target, flat(4), tc.delay, 512)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !solution.Converged || solution.FlightTicks != 20 {
				t.Fatalf("expected a converged 20 tick flight, got %+v", solution)
			}
			//1.- Extrapolate from the fire-time frame by flight plus latency only.
			shooterAtFire := tc.shooter.Advance(float64(tc.delay))
			rel := tc.target.Advance(float64(tc.delay)).RelativeTo(shooterAtFire)
			want := shooterAtFire.Pos.Add(physics.AdvancePos(rel.Pos, rel.Vel, rel.Accel, float64(solution.FlightTicks)+2))
			if solution.AimPoint.Sub(want).Length() > 1e-9 {
				t.Fatalf("expected aim %+v, got %+v", want, solution.AimPoint)
			}

			//2.- A relative acceleration must move the aim away from the velocity-only answer.
			if rel.Accel == physics.Zero {
				return
			}
			velocityOnly, err := solver.SolveConstantVelocity(&shooter, &target, flat(4), tc.delay, 512)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if velocityOnly.AimPoint.Sub(solution.AimPoint).Length() < 1 {
				t.Fatalf("expected acceleration to shift the aim, got %+v and %+v", velocityOnly.AimPoint, solution.AimPoint)
			}
		})
	}
}

func TestShooterJitterIsZeroedBeforeExtrapolation(t *testing.T) {
	cases := []struct {
		name        string
		model       Model
		shooter     physics.KinematicState
		wantMuzzle  physics.Vec3
		wantCarrier physics.Vec3
	}{
		{
			name:    "velocity model drops jitter",
			model:   ConstantVelocity,
			shooter: physics.KinematicState{Vel: physics.V3(0.005, 0, 0.005), Accel: physics.V3(0, 0, 0.5)},
		},
		{
			name:    "acceleration model drops jitter and acceleration",
			model:   ConstantAcceleration,
			shooter: physics.KinematicState{Vel: physics.V3(0.005, 0, 0.005), Accel: physics.V3(0, 0, 0.5)},
		},
		{
			name:        "moving shooter keeps its motion",
			model:       ConstantAcceleration,
			shooter:     physics.KinematicState{Vel: physics.V3(0.02, 0, 0), Accel: physics.V3(0, 0, 0.5)},
			wantMuzzle:  physics.V3(0.2, 0, 25),
			wantCarrier: physics.V3(0.02, 0, 5),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var first *ballistics.ShotSetup
			capture := ballistics.IntegratorFunc(func(setup ballistics.ShotSetup) ballistics.SimResult {
				if first == nil {
					first = &setup
				}
				return ballistics.SimResult{Ticks: 20}
			})
			shooter := tc.shooter
			_, err := NewSolver(WithIntegrator(capture)).Solve(Inputs{
				Shooter:        &shooter,
				Target:         state(physics.V3(100, 0, 0), physics.V3(0, 0, 1)),
				Ballistics:     flat(4),
				FireDelayTicks: 10,
				MaxSimDistance: 512,
				Model:          tc.model,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if first == nil {
				t.Fatalf("expected the shot to be simulated")
			}
			if first.Muzzle.Sub(tc.wantMuzzle).Length() > 1e-9 || first.CarrierVel.Sub(tc.wantCarrier).Length() > 1e-9 {
				t.Fatalf("expected muzzle %+v carrier %+v, got %+v %+v", tc.wantMuzzle, tc.wantCarrier, first.Muzzle, first.CarrierVel)
			}
		})
	}
}
