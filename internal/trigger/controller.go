package trigger

import (
	"strings"
	"sync"

	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/registry"
)

const (
	// FailsafeTicks is how long a powered trigger survives without a fresh command.
	FailsafeTicks = 10
	// RelocateEveryTicks is the cadence of the endpoint registry position check.
	RelocateEveryTicks = 40
	// NoTick marks an empty pulse schedule slot.
	NoTick int64 = -1
)

// Mode is the state of the trigger machine.
type Mode int

const (
	// Off holds the output low.
	Off Mode = iota
	// SteadyOn holds the output high.
	SteadyOn
	// Pulsing emits one-tick pulses every 2·delaySteps ticks.
	Pulsing
)

// String returns a lowercase label for logs and wire messages.
func (m Mode) String() string {
	switch m {
	case SteadyOn:
		return "steady"
	case Pulsing:
		return "pulsing"
	default:
		return "off"
	}
}

// Clock supplies the monotonic simulation tick.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() int64

// Now implements Clock.
func (f ClockFunc) Now() int64 { return f() }

// Output receives the trigger level. Implementations must tolerate repeated values
// and must not call back into the controller.
type Output interface {
	SetPowered(powered bool)
}

// Repeater reports whether a pulse repeater sits above the controller and its delay setting.
type Repeater interface {
	Above() (present bool, delaySteps int)
}

// Registry is the slice of the endpoint registry the trigger needs.
type Registry interface {
	Register(dim string, pos registry.BlockPos)
	Move(dim string, old, next registry.BlockPos) bool
}

// State is the persisted form of a controller.
type State struct {
	Powered       bool  `json:"powered"`
	Pulsing       bool  `json:"pulsing"`
	NextPulseTick int64 `json:"next_pulse_tick"`
	PulseOffTick  int64 `json:"pulse_off_tick"`
	LastKnownPos  int64 `json:"last_known_pos"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithRepeater installs the repeater predicate consulted on Set(true).
func WithRepeater(repeater Repeater) Option {
	return func(c *Controller) { c.repeater = repeater }
}

// WithRegistry attaches the endpoint registry under the given dimension.
func WithRegistry(dim string, reg Registry) Option {
	return func(c *Controller) {
		c.dim = strings.TrimSpace(dim)
		c.registry = reg
	}
}

// WithLogger routes trigger diagnostics to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Controller is the fire-control trigger: a Moore machine over the tick clock.
type Controller struct {
	mu sync.Mutex

	clock    Clock
	out      Output
	repeater Repeater
	registry Registry
	dim      string
	logger   *logging.Logger

	mode        Mode
	level       bool
	lastCommand int64
	nextPulse   int64
	pulseOff    int64
	period      int64

	lastKnown    registry.BlockPos
	current      registry.BlockPos
	lastRelocate int64
}

// New builds a controller for the endpoint at pos, announcing it to the registry when one is attached.
func New(pos registry.BlockPos, clock Clock, out Output, opts ...Option) *Controller {
	c := &Controller{
		clock:     clock,
		out:       out,
		nextPulse: NoTick,
		pulseOff:  NoTick,
		period:    2,
		lastKnown: pos,
		current:   pos,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.clock == nil {
		c.clock = ClockFunc(func() int64 { return 0 })
	}
	c.lastRelocate = c.clock.Now()
	if c.registry != nil {
		c.registry.Register(c.dim, pos)
	}
	return c
}

// Set accepts a fire command. Re-commanding the current mode only refreshes the failsafe.
func (c *Controller) Set(powered bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.lastCommand = now

	//1.- Releasing the trigger always lands in Off with an empty schedule.
	if !powered {
		c.mode = Off
		c.clearSchedule()
		c.emit(false)
		return
	}
	present, delaySteps := false, 0
	if c.repeater != nil {
		present, delaySteps = c.repeater.Above()
	}
	//2.- Without a repeater the output simply stays high.
	if !present {
		c.mode = SteadyOn
		c.clearSchedule()
		c.emit(true)
		return
	}
	if c.mode == Pulsing {
		return
	}
	//3.- Entering Pulsing fires immediately and books the next rising edge.
	c.mode = Pulsing
	c.period = pulsePeriod(delaySteps)
	c.emit(true)
	c.pulseOff = now + 1
	c.nextPulse = now + c.period
}

// Tick advances the machine to the clock's current tick: failsafe, pulse-off, pulse-on,
// then the periodic registry check.
func (c *Controller) Tick() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	//1.- A stale command stream drops the trigger.
	if c.mode != Off && now-c.lastCommand > FailsafeTicks {
		c.mode = Off
		c.clearSchedule()
		c.emit(false)
		c.log().Debug("trigger failsafe released", logging.Int64("tick", now), logging.Int64("last_command", c.lastCommand))
	}
	//2.- Close the current one-tick pulse.
	if c.pulseOff != NoTick && now >= c.pulseOff {
		c.pulseOff = NoTick
		c.emit(false)
	}
	//3.- Open the next pulse and schedule its successor.
	if c.mode == Pulsing && c.nextPulse != NoTick && now >= c.nextPulse {
		if c.repeater != nil {
			if present, delaySteps := c.repeater.Above(); present {
				c.period = pulsePeriod(delaySteps)
			}
		}
		c.emit(true)
		c.pulseOff = now + 1
		c.nextPulse = now + c.period
	}
	if now-c.lastRelocate >= RelocateEveryTicks {
		c.relocate(now)
	}
}

// MoveTo records the controller's current block; the registry learns about it on the next periodic check.
func (c *Controller) MoveTo(pos registry.BlockPos) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.current = pos
	c.mu.Unlock()
}

// Mode reports the machine state.
func (c *Controller) Mode() Mode {
	if c == nil {
		return Off
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Powered reports the level last written to the output.
func (c *Controller) Powered() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Position reports the position the registry last accepted.
func (c *Controller) Position() registry.BlockPos {
	if c == nil {
		return registry.BlockPos{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKnown
}

// Snapshot captures the persisted state.
func (c *Controller) Snapshot() State {
	if c == nil {
		return State{NextPulseTick: NoTick, PulseOffTick: NoTick}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Powered:       c.mode != Off,
		Pulsing:       c.mode == Pulsing,
		NextPulseTick: c.nextPulse,
		PulseOffTick:  c.pulseOff,
		LastKnownPos:  c.lastKnown.Long(),
	}
}

// Restore loads a persisted state. Any saved fire schedule is discarded so a reload
// never resumes firing; the endpoint is re-announced to the registry.
func (c *Controller) Restore(state State) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = Off
	c.clearSchedule()
	c.emit(false)
	c.lastKnown = registry.FromLong(state.LastKnownPos)
	c.lastRelocate = c.clock.Now()
	if c.registry != nil {
		c.registry.Register(c.dim, c.lastKnown)
	}
	if state.Powered || state.Pulsing {
		c.log().Info("trigger restored unpowered", logging.Bool("was_pulsing", state.Pulsing), logging.String("pos", c.lastKnown.String()))
	}
}

func (c *Controller) relocate(now int64) {
	c.lastRelocate = now
	if c.registry == nil {
		c.lastKnown = c.current
		return
	}
	//1.- Always ask; the registry decides whether the move stands.
	if c.registry.Move(c.dim, c.lastKnown, c.current) {
		c.lastKnown = c.current
		return
	}
	c.log().Debug("endpoint move rejected",
		logging.String("dimension", c.dim),
		logging.String("from", c.lastKnown.String()),
		logging.String("to", c.current.String()),
	)
}

func (c *Controller) clearSchedule() {
	c.nextPulse = NoTick
	c.pulseOff = NoTick
}

func (c *Controller) emit(level bool) {
	if c.level == level {
		return
	}
	c.level = level
	if c.out != nil {
		c.out.SetPowered(level)
	}
}

func (c *Controller) log() *logging.Logger {
	if c.logger == nil {
		return logging.L()
	}
	return c.logger
}

func pulsePeriod(delaySteps int) int64 {
	if delaySteps < 1 {
		delaySteps = 1
	}
	return int64(2 * delaySteps)
}
