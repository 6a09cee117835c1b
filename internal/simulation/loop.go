package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StepFunc advances the simulation to tick by one fixed timestep.
type StepFunc func(tick int64, step time.Duration)

// Loop drives a fixed timestep simulation at the configured target frequency and
// numbers every step with a monotonic tick counter.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor
	tick     atomic.Int64
	stepMu   sync.Mutex
	ticker   *time.Ticker
	quit     chan struct{}
	done     chan struct{}
}

// NewLoop configures a loop that targets the provided ticks per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 20
	}
	if step == nil {
		step = func(int64, time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 20
	}
	return &Loop{
		step:     interval,
		stepFunc: step,
	}
}

// WithMonitor records the wall-clock cost of every step into monitor.
func (l *Loop) WithMonitor(monitor *TickMonitor) *Loop {
	if l != nil {
		l.monitor = monitor
	}
	return l
}

// Now reports the tick currently being simulated. It starts at zero and only grows.
func (l *Loop) Now() int64 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// Advance runs exactly one step and moves the counter forward. The step function
// observes the tick it simulates through Now.
func (l *Loop) Advance() int64 {
	if l == nil {
		return 0
	}
	l.stepMu.Lock()
	defer l.stepMu.Unlock()
	//1.- Run the step against the current tick, then publish the next one.
	tick := l.tick.Load()
	started := time.Now()
	l.stepFunc(tick, l.step)
	l.monitor.Observe(time.Since(started))
	l.tick.Store(tick + 1)
	return tick
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}

	l.ticker = time.NewTicker(l.step)
	l.quit = make(chan struct{})
	l.done = make(chan struct{})
	quit := l.quit
	go func() {
		defer close(l.done)
		defer l.ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case now := <-l.ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				for accumulator >= l.step {
					l.Advance()
					accumulator -= l.step
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.quit != nil {
		close(l.quit)
		l.quit = nil
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the configured timestep for testing.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
