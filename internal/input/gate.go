package input

import (
	"sync"
	"time"

	"gunlayer/broker/internal/logging"
)

// Clock exposes the current time for gating decisions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (c ClockFunc) Now() time.Time { return c() }

// Config controls the freshness and throughput gates applied to operator commands.
type Config struct {
	// MaxAge drops commands whose SentAt is older than this. Zero disables the check.
	MaxAge time.Duration
	// MinInterval is the minimum spacing between accepted commands of one session.
	MinInterval time.Duration
}

// DropReason enumerates why a command was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether a command passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame carries the metadata the gate needs from one command.
type Frame struct {
	Session string
	// Seq orders commands within a session. Zero marks an unsequenced command.
	Seq    uint64
	SentAt time.Time
	// Release marks a command that only lowers the trigger.
	Release bool
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

func (d *DropCounters) add(reason DropReason) {
	switch reason {
	case DropReasonSequence:
		d.Sequence++
	case DropReasonStale:
		d.Stale++
	case DropReasonRateLimited:
		d.RateLimited++
	}
}

type sessionState struct {
	lastSeq      uint64
	lastAccepted time.Time
	drops        DropCounters
}

// Gate keeps a session's fire commands in order, fresh and spaced. Release
// commands are never dropped: a late or rapid hold is always safe to apply.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	logger   *logging.Logger
	sessions map[string]*sessionState
	totals   DropCounters
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for freshness and spacing.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLogger routes drop diagnostics to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate constructs a gate. Non-positive limits disable the corresponding check.
func NewGate(cfg Config, opts ...Option) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	g := &Gate{
		cfg:      cfg,
		clock:    ClockFunc(time.Now),
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Evaluate applies the sequencing, freshness and spacing checks to frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.Session == "" {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		if delay := now.Sub(frame.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.sessions[frame.Session]
	if state == nil {
		state = &sessionState{}
		g.sessions[frame.Session] = state
	}

	//1.- Releases bypass every check but still advance the sequence.
	if frame.Release {
		if frame.Seq > state.lastSeq {
			state.lastSeq = frame.Seq
		}
		return decision
	}
	switch {
	case frame.Seq != 0 && frame.Seq <= state.lastSeq:
		decision.Reason = DropReasonSequence
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		decision.Reason = DropReasonStale
	case g.cfg.MinInterval > 0 && !state.lastAccepted.IsZero() && now.Sub(state.lastAccepted) < g.cfg.MinInterval:
		decision.Reason = DropReasonRateLimited
	}
	if decision.Reason != DropReasonNone {
		decision.Accepted = false
		state.drops.add(decision.Reason)
		g.totals.add(decision.Reason)
		g.log().Debug("command dropped",
			logging.String("session", frame.Session),
			logging.String("reason", decision.Reason.String()),
			logging.Duration("delay", decision.Delay),
		)
		return decision
	}

	//2.- Promote the frame as the latest accepted command.
	if frame.Seq != 0 {
		state.lastSeq = frame.Seq
	}
	state.lastAccepted = now
	return decision
}

// Forget clears a disconnected session. Totals keep its drops.
func (g *Gate) Forget(session string) {
	if g == nil || session == "" {
		return
	}
	g.mu.Lock()
	delete(g.sessions, session)
	g.mu.Unlock()
}

// Sessions returns a snapshot of the drop counters of live sessions.
func (g *Gate) Sessions() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]DropCounters, len(g.sessions))
	for session, state := range g.sessions {
		out[session] = state.drops
	}
	return out
}

// Totals returns the drop counters accumulated since start.
func (g *Gate) Totals() DropCounters {
	if g == nil {
		return DropCounters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totals
}

func (g *Gate) log() *logging.Logger {
	if g.logger == nil {
		return logging.L()
	}
	return g.logger
}
