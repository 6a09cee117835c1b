package gunnery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
	"gunlayer/broker/internal/registry"
	"gunlayer/broker/internal/trigger"
)

// shooterLift is how many blocks above the controller the barrel pivot sits.
const shooterLift = 2

// Event types published to subscribers.
const (
	EventSolution = "solution"
	EventEdge     = "edge"
	EventError    = "error"
)

// ErrNoTarget is returned when no track has been reported yet. It matches lead.ErrMissingInput.
var ErrNoTarget = fmt.Errorf("%w: no target tracked", lead.ErrMissingInput)

// Recorder captures station activity for replays.
type Recorder interface {
	AppendEvent(tick int64, eventType string, payload any) error
	AppendFrame(tick int64, payload []byte) error
}

// ShotLog persists every solution the station fired on.
type ShotLog interface {
	RecordShot(mountID string, tick int64, solution lead.Solution) error
}

// Event is the notification fan-out of a station.
type Event struct {
	Type     string           `json:"type"`
	Mount    string           `json:"mount"`
	Tick     int64            `json:"tick"`
	Powered  *bool            `json:"powered,omitempty"`
	Solution *lead.Solution   `json:"solution,omitempty"`
	Report   *lead.Report     `json:"report,omitempty"`
	Heading  *physics.Heading `json:"heading,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Listener receives station events. It runs on the caller's goroutine and must not
// block or call back into the station.
type Listener func(Event)

// Config describes one mount.
type Config struct {
	ID             string
	Dimension      string
	Position       registry.BlockPos
	Ballistics     ballistics.Params
	FireDelayTicks int
	MaxSimDistance float64
	Model          lead.Model
}

// Option customises a Station.
type Option func(*Station)

// WithSolver replaces the default lead solver.
func WithSolver(solver *lead.Solver) Option {
	return func(s *Station) {
		if solver != nil {
			s.solver = solver
		}
	}
}

// WithRecorder streams edges, solutions and per-tick frames into recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *Station) { s.recorder = recorder }
}

// WithShotLog persists every engaged solution.
func WithShotLog(shots ShotLog) Option {
	return func(s *Station) { s.shots = shots }
}

// WithRegistry announces the trigger endpoint to reg.
func WithRegistry(reg trigger.Registry) Option {
	return func(s *Station) { s.registry = reg }
}

// WithLogger routes station diagnostics to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Station) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Station binds the lead solver to a fire-control trigger for a single mount.
type Station struct {
	id       string
	dim      string
	clock    trigger.Clock
	solver   *lead.Solver
	trigger  *trigger.Controller
	recorder Recorder
	shots    ShotLog
	registry trigger.Registry
	logger   *logging.Logger

	// mu guards the aiming state below. It is never held while calling the trigger.
	mu             sync.Mutex
	pos            registry.BlockPos
	motion         physics.KinematicState
	target         *physics.KinematicState
	params         ballistics.Params
	fireDelayTicks int
	maxSimDistance float64
	model          lead.Model
	repeater       bool
	repeaterDelay  int
	last           *lead.Solution

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewStation builds a station and its trigger. The trigger reads time from clock.
func NewStation(cfg Config, clock trigger.Clock, opts ...Option) *Station {
	s := &Station{
		id:             strings.TrimSpace(cfg.ID),
		dim:            strings.TrimSpace(cfg.Dimension),
		clock:          clock,
		pos:            cfg.Position,
		params:         cfg.Ballistics,
		fireDelayTicks: cfg.FireDelayTicks,
		maxSimDistance: cfg.MaxSimDistance,
		model:          cfg.Model,
		listeners:      make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.id == "" {
		s.id = s.dim + "@" + cfg.Position.String()
	}
	if s.clock == nil {
		s.clock = trigger.ClockFunc(func() int64 { return 0 })
	}
	if s.solver == nil {
		s.solver = lead.NewSolver(lead.WithLogger(s.logger))
	}
	triggerOpts := []trigger.Option{trigger.WithRepeater(s), trigger.WithLogger(s.log())}
	if s.registry != nil {
		triggerOpts = append(triggerOpts, trigger.WithRegistry(s.dim, s.registry))
	}
	s.trigger = trigger.New(cfg.Position, s.clock, s, triggerOpts...)
	return s
}

// ID returns the mount identifier.
func (s *Station) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Track stores the latest observed target state.
func (s *Station) Track(target physics.KinematicState) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.target = &target
	s.mu.Unlock()
}

// SetMotion updates the velocity and acceleration of the vehicle carrying the mount.
// Position is ignored; the barrel pivot follows the controller block.
func (s *Station) SetMotion(motion physics.KinematicState) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.motion = physics.KinematicState{Vel: motion.Vel, Accel: motion.Accel}
	s.mu.Unlock()
}

// SetBallistics swaps the loaded shot.
func (s *Station) SetBallistics(params ballistics.Params) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
}

// SetRepeater places or removes a pulse repeater above the trigger.
func (s *Station) SetRepeater(present bool, delaySteps int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.repeater = present
	s.repeaterDelay = delaySteps
	s.mu.Unlock()
}

// SetModel selects how shooter and target motion are extrapolated by later solves.
func (s *Station) SetModel(model lead.Model) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// Model reports the active extrapolation model.
func (s *Station) Model() lead.Model {
	if s == nil {
		return lead.ConstantVelocity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Above implements trigger.Repeater.
func (s *Station) Above() (bool, int) {
	if s == nil {
		return false, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeater, s.repeaterDelay
}

// MoveTo relocates the mount. The registry catches up on the trigger's next periodic check.
func (s *Station) MoveTo(pos registry.BlockPos) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
	s.trigger.MoveTo(pos)
}

// Solve computes a lead against the tracked target without touching the trigger.
func (s *Station) Solve() (lead.Solution, error) {
	if s == nil {
		return lead.Solution{}, lead.ErrMissingInput
	}
	in, target := s.inputs()
	if target == nil {
		return lead.Solution{}, ErrNoTarget
	}
	solution, err := s.solver.Solve(in)
	if err != nil {
		return lead.Solution{}, err
	}
	s.mu.Lock()
	s.last = &solution
	s.mu.Unlock()
	report := lead.LeadReport(solution, *target)
	heading := physics.HeadingFor(solution.YawRad, solution.PitchDeg)
	s.publish(Event{Type: EventSolution, Tick: s.clock.Now(), Solution: &solution, Report: &report, Heading: &heading})
	return solution, nil
}

// Engage solves and, when a solution exists, commands the trigger high. Without a
// solution the station holds fire and returns the solver error.
func (s *Station) Engage(ctx context.Context) (lead.Solution, error) {
	if s == nil {
		return lead.Solution{}, lead.ErrMissingInput
	}
	if err := ctx.Err(); err != nil {
		return lead.Solution{}, err
	}
	solution, err := s.Solve()
	if err != nil {
		s.Hold()
		tick := s.clock.Now()
		s.record(tick, EventError, err.Error())
		s.publish(Event{Type: EventError, Tick: tick, Error: err.Error()})
		return lead.Solution{}, err
	}
	tick := s.clock.Now()
	s.trigger.Set(true)
	if s.shots != nil {
		if err := s.shots.RecordShot(s.id, tick, solution); err != nil {
			s.log().Warn("record shot failed", logging.String("mount", s.id), logging.Error(err))
		}
	}
	s.record(tick, EventSolution, solution)
	return solution, nil
}

// Hold releases the trigger.
func (s *Station) Hold() {
	if s == nil {
		return
	}
	s.trigger.Set(false)
}

// Step advances the trigger by one tick and appends a state frame to the recorder.
// Its signature matches simulation.StepFunc.
func (s *Station) Step(tick int64, _ time.Duration) {
	if s == nil {
		return
	}
	s.trigger.Tick()
	if s.recorder == nil {
		return
	}
	frame, err := json.Marshal(s.trigger.Snapshot())
	if err != nil {
		return
	}
	if err := s.recorder.AppendFrame(tick, frame); err != nil {
		s.log().Warn("append frame failed", logging.String("mount", s.id), logging.Error(err))
	}
}

// SetPowered implements trigger.Output: it records the edge and notifies listeners.
func (s *Station) SetPowered(powered bool) {
	tick := s.clock.Now()
	level := powered
	s.record(tick, EventEdge, map[string]bool{"powered": powered})
	s.publish(Event{Type: EventEdge, Tick: tick, Powered: &level})
}

// Subscribe registers listener and returns a function removing it.
func (s *Station) Subscribe(listener Listener) func() {
	if s == nil || listener == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Powered reports the trigger output level.
func (s *Station) Powered() bool {
	if s == nil {
		return false
	}
	return s.trigger.Powered()
}

// Mode reports the trigger machine state.
func (s *Station) Mode() trigger.Mode {
	if s == nil {
		return trigger.Off
	}
	return s.trigger.Mode()
}

// LastSolution returns the most recent solution, if any.
func (s *Station) LastSolution() (lead.Solution, bool) {
	if s == nil {
		return lead.Solution{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return lead.Solution{}, false
	}
	return *s.last, true
}

// TriggerState captures the trigger for persistence.
func (s *Station) TriggerState() trigger.State {
	return s.trigger.Snapshot()
}

// RestoreTrigger reloads a persisted trigger state.
func (s *Station) RestoreTrigger(state trigger.State) {
	if s == nil {
		return
	}
	s.trigger.Restore(state)
	pos := s.trigger.Position()
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
}

// Position reports the block the mount currently occupies.
func (s *Station) Position() registry.BlockPos {
	if s == nil {
		return registry.BlockPos{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Station) inputs() (lead.Inputs, *physics.KinematicState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	//1.- The barrel pivots two blocks above the controller, at the block centre.
	shooter := physics.KinematicState{
		Pos:   s.pos.Above(shooterLift).Center(),
		Vel:   s.motion.Vel,
		Accel: s.motion.Accel,
	}
	params := s.params
	in := lead.Inputs{
		Shooter:        &shooter,
		Ballistics:     &params,
		FireDelayTicks: s.fireDelayTicks,
		MaxSimDistance: s.maxSimDistance,
		Model:          s.model,
		Label:          s.id,
	}
	if s.target == nil {
		return in, nil
	}
	target := *s.target
	in.Target = &target
	return in, &target
}

func (s *Station) record(tick int64, eventType string, payload any) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.AppendEvent(tick, eventType, payload); err != nil {
		s.log().Warn("append event failed", logging.String("mount", s.id), logging.String("type", eventType), logging.Error(err))
	}
}

func (s *Station) publish(event Event) {
	event.Mount = s.id
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenersMu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}

func (s *Station) log() *logging.Logger {
	if s.logger == nil {
		return logging.L()
	}
	return s.logger
}
