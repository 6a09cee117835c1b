package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/input"
	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
	"gunlayer/broker/internal/replay"
	"gunlayer/broker/internal/simulation"
)

const (
	// maxSolveBody bounds the JSON accepted by /solve.
	maxSolveBody = 1 << 16
	// maxTraceEvery caps the sampling stride accepted through ?trace=.
	maxTraceEvery = 1000
)

// ReadinessProvider exposes service state required for readiness checks.
type ReadinessProvider interface {
	Clients() int
	StartupError() error
	Uptime() time.Duration
}

// Solver is the lead solver used by /solve.
type Solver interface {
	Solve(in lead.Inputs) (lead.Solution, error)
}

// Tracer is implemented by solvers that can sample the flight path of a solution.
type Tracer interface {
	Trace(in lead.Inputs, sol lead.Solution, every int) ([]physics.Vec3, error)
}

// CannonLister is implemented by ballistics providers that can enumerate their cannons.
type CannonLister interface {
	CannonIDs() []string
}

// TriggerStatus reports the live fire-control state.
type TriggerStatus interface {
	Powered() bool
	Tick() int64
}

// ReplayFlusher forces buffered replay data to disk and returns the bundle directory.
type ReplayFlusher interface {
	FlushReplay(ctx context.Context) (string, error)
}

// ReplayFlusherFunc adapts a function into a ReplayFlusher.
type ReplayFlusherFunc func(ctx context.Context) (string, error)

// FlushReplay implements ReplayFlusher.
func (f ReplayFlusherFunc) FlushReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently a caller may invoke sensitive operations.
type RateLimiter interface {
	Allow(caller string) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	Solver       Solver
	Ballistics   ballistics.Provider
	Defaults     lead.Defaults
	Trigger      TriggerStatus
	TickStats    func() simulation.TickMetricsSnapshot
	ReplayStats  func() replay.StorageStats
	CommandDrops func() input.DropCounters
	Replay       ReplayFlusher
	AdminToken   string
	RateLimiter  RateLimiter
	SolveLimiter RateLimiter
	TimeSource   func() time.Time
}

// HandlerSet bundles the service's HTTP handlers.
type HandlerSet struct {
	logger       *logging.Logger
	readiness    ReadinessProvider
	solver       Solver
	provider     ballistics.Provider
	defaults     lead.Defaults
	trigger      TriggerStatus
	tickStats    func() simulation.TickMetricsSnapshot
	replayStats  func() replay.StorageStats
	commandDrops func() input.DropCounters
	replay       ReplayFlusher
	adminToken   string
	rateLimiter  RateLimiter
	solveLimiter RateLimiter
	now          func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:       logger,
		readiness:    opts.Readiness,
		solver:       opts.Solver,
		provider:     opts.Ballistics,
		defaults:     opts.Defaults,
		trigger:      opts.Trigger,
		tickStats:    opts.TickStats,
		replayStats:  opts.ReplayStats,
		commandDrops: opts.CommandDrops,
		replay:       opts.Replay,
		adminToken:   strings.TrimSpace(opts.AdminToken),
		rateLimiter:  opts.RateLimiter,
		solveLimiter: opts.SolveLimiter,
		now:          now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/solve", h.SolveHandler())
	mux.HandleFunc("/catalog", h.CatalogHandler())
	mux.HandleFunc("/replay/flush", h.ReplayFlushHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether startup completed, with uptime and client counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Clients = h.readiness.Clients()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			fmt.Fprintf(w, "# HELP gunlayer_uptime_seconds Service uptime in seconds.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_uptime_seconds gauge\n")
			fmt.Fprintf(w, "gunlayer_uptime_seconds %.0f\n", h.readiness.Uptime().Seconds())
			fmt.Fprintf(w, "# HELP gunlayer_clients Connected gunnery websocket clients.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_clients gauge\n")
			fmt.Fprintf(w, "gunlayer_clients %d\n", h.readiness.Clients())
		}
		if h.trigger != nil {
			powered := 0
			if h.trigger.Powered() {
				powered = 1
			}
			fmt.Fprintf(w, "# HELP gunlayer_trigger_powered Current fire-control output level.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_trigger_powered gauge\n")
			fmt.Fprintf(w, "gunlayer_trigger_powered %d\n", powered)
			fmt.Fprintf(w, "# HELP gunlayer_tick Current simulation tick.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_tick counter\n")
			fmt.Fprintf(w, "gunlayer_tick %d\n", h.trigger.Tick())
		}
		if h.tickStats != nil {
			stats := h.tickStats()
			fmt.Fprintf(w, "# HELP gunlayer_tick_duration_seconds Observed step cost.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_tick_duration_seconds gauge\n")
			fmt.Fprintf(w, "gunlayer_tick_duration_seconds{stat=\"avg\"} %.6f\n", stats.Average.Seconds())
			fmt.Fprintf(w, "gunlayer_tick_duration_seconds{stat=\"max\"} %.6f\n", stats.Max.Seconds())
			fmt.Fprintf(w, "# HELP gunlayer_tick_overruns_total Steps that took longer than one tick.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_tick_overruns_total counter\n")
			fmt.Fprintf(w, "gunlayer_tick_overruns_total %d\n", stats.Overruns)
			fmt.Fprintf(w, "# HELP gunlayer_tick_utilisation Average step cost as a fraction of the tick budget.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_tick_utilisation gauge\n")
			fmt.Fprintf(w, "gunlayer_tick_utilisation %.3f\n", stats.Utilisation())
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			fmt.Fprintf(w, "# HELP gunlayer_replay_bundles Retained engagement recordings.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_replay_bundles gauge\n")
			fmt.Fprintf(w, "gunlayer_replay_bundles %d\n", stats.Bundles)
			fmt.Fprintf(w, "# HELP gunlayer_replay_bytes Disk used by retained recordings.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_replay_bytes gauge\n")
			fmt.Fprintf(w, "gunlayer_replay_bytes %d\n", stats.Bytes)
		}
		if h.commandDrops != nil {
			drops := h.commandDrops()
			fmt.Fprintf(w, "# HELP gunlayer_command_drops_total Gunnery commands refused by the command gate.\n")
			fmt.Fprintf(w, "# TYPE gunlayer_command_drops_total counter\n")
			fmt.Fprintf(w, "gunlayer_command_drops_total{reason=\"sequence\"} %d\n", drops.Sequence)
			fmt.Fprintf(w, "gunlayer_command_drops_total{reason=\"stale\"} %d\n", drops.Stale)
			fmt.Fprintf(w, "gunlayer_command_drops_total{reason=\"rate_limit\"} %d\n", drops.RateLimited)
		}
	}
}

// SolveHandler runs the lead solver on a JSON lead.Request without firing.
func (h *HandlerSet) SolveHandler() http.HandlerFunc {
	type response struct {
		Solution lead.Solution  `json:"solution"`
		Report   *lead.Report   `json:"report,omitempty"`
		Trace    []physics.Vec3 `json:"trace,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.solver == nil {
			http.Error(w, "solver unavailable", http.StatusServiceUnavailable)
			return
		}
		if h.solveLimiter != nil && !h.solveLimiter.Allow(callerKey(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		every, err := traceStride(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req lead.Request
		decoder := json.NewDecoder(io.LimitReader(r.Body, maxSolveBody))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			http.Error(w, "malformed request: "+err.Error(), http.StatusBadRequest)
			return
		}
		//1.- Resolve catalogue ballistics before solving so lookup errors map cleanly.
		in, err := req.Resolve(h.provider, h.defaults)
		if err != nil {
			h.writeSolveError(w, err)
			return
		}
		solution, err := h.solver.Solve(in)
		if err != nil {
			h.writeSolveError(w, err)
			return
		}
		resp := response{Solution: solution}
		if in.Target != nil {
			report := lead.LeadReport(solution, *in.Target)
			resp.Report = &report
		}
		//2.- Sample the flight path only when asked; it replays the whole shot.
		if tracer, ok := h.solver.(Tracer); ok && every > 0 {
			points, err := tracer.Trace(in, solution, every)
			if err != nil {
				h.writeSolveError(w, err)
				return
			}
			resp.Trace = points
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func traceStride(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("trace"))
	if raw == "" {
		return 0, nil
	}
	every, err := strconv.Atoi(raw)
	if err != nil || every < 1 || every > maxTraceEvery {
		return 0, fmt.Errorf("trace must be an integer between 1 and %d", maxTraceEvery)
	}
	return every, nil
}

// CatalogHandler lists the cannons the ballistics provider knows about.
func (h *HandlerSet) CatalogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		lister, ok := h.provider.(CannonLister)
		if !ok {
			http.Error(w, "catalogue unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cannons": lister.CannonIDs()})
	}
}

// ReplayFlushHandler authorises and forces the current replay bundle to disk.
func (h *HandlerSet) ReplayFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_flush"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay flush denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay flush denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow(callerKey(r)) {
			reqLogger.Warn("replay flush denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			http.Error(w, "replay recording is disabled", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.FlushReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay flush failed", logging.Error(err))
			http.Error(w, "failed to flush replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay flushed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) writeSolveError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lead.ErrMissingInput):
		status = http.StatusBadRequest
	case errors.Is(err, lead.ErrInvalidBallistics):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ballistics.ErrUnknownCannon), errors.Is(err, ballistics.ErrUnknownProjectile):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("solve failed", logging.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
