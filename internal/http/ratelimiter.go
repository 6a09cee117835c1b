package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// CallerLimiter admits at most limit calls per caller inside a sliding window.
// Each caller keeps its own budget so one noisy fire-control client cannot
// starve the others sharing the broker.
type CallerLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	callers map[string][]time.Time
	sweptAt time.Time
}

// LimiterOption customises a CallerLimiter.
type LimiterOption func(*CallerLimiter)

// WithLimiterClock swaps the wall clock, letting tests step time by hand.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *CallerLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewCallerLimiter builds a limiter. A non-positive window or limit admits every call.
func NewCallerLimiter(window time.Duration, limit int, opts ...LimiterOption) *CallerLimiter {
	l := &CallerLimiter{
		window:  window,
		limit:   limit,
		now:     time.Now,
		callers: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Allow records one call for caller and reports whether it fits the budget.
func (l *CallerLimiter) Allow(caller string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	//1.- Forget callers that went quiet so the table only holds active clients.
	if now.Sub(l.sweptAt) >= l.window {
		for key, calls := range l.callers {
			if len(calls) == 0 || !calls[len(calls)-1].After(cutoff) {
				delete(l.callers, key)
			}
		}
		l.sweptAt = now
	}

	//2.- Slide this caller's window forward before counting.
	calls := l.callers[caller]
	expired := 0
	for expired < len(calls) && !calls[expired].After(cutoff) {
		expired++
	}
	calls = calls[expired:]
	if len(calls) >= l.limit {
		l.callers[caller] = calls
		return false
	}
	l.callers[caller] = append(calls, now)
	return true
}

// Callers reports how many clients currently hold calls inside the window.
func (l *CallerLimiter) Callers() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// callerKey identifies the client behind r by its remote host; the port changes
// per connection and would hand every reconnect a fresh budget.
func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
