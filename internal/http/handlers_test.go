package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/input"
	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
	"gunlayer/broker/internal/replay"
	"gunlayer/broker/internal/simulation"
)

type stubReadiness struct {
	clients int
	uptime  time.Duration
	err     error
}

func (s *stubReadiness) Clients() int          { return s.clients }
func (s *stubReadiness) StartupError() error   { return s.err }
func (s *stubReadiness) Uptime() time.Duration { return s.uptime }

type stubTrigger struct {
	powered bool
	tick    int64
}

func (s stubTrigger) Powered() bool { return s.powered }
func (s stubTrigger) Tick() int64   { return s.tick }

type stubLimiter struct {
	remaining int
	callers   []string
}

func (s *stubLimiter) Allow(caller string) bool {
	s.callers = append(s.callers, caller)
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubFlusher struct {
	location string
	err      error
	calls    int
}

func (s *stubFlusher) FlushReplay(ctx context.Context) (string, error) {
	s.calls++
	return s.location, s.err
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{clients: 3, uptime: 45 * time.Second, err: errors.New("store offline")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "store offline" || payload.Clients != 3 || payload.UptimeSeconds != 45 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: &stubReadiness{clients: 2, uptime: 90 * time.Second},
		Trigger:   stubTrigger{powered: true, tick: 1200},
		TickStats: func() simulation.TickMetricsSnapshot {
			return simulation.TickMetricsSnapshot{Average: time.Millisecond, Max: 4 * time.Millisecond, Budget: 4 * time.Millisecond, Overruns: 3}
		},
		ReplayStats:  func() replay.StorageStats { return replay.StorageStats{Bundles: 5, Bytes: 4096} },
		CommandDrops: func() input.DropCounters { return input.DropCounters{Stale: 2} },
	})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"gunlayer_uptime_seconds 90",
		"gunlayer_clients 2",
		"gunlayer_trigger_powered 1",
		"gunlayer_tick 1200",
		`gunlayer_tick_duration_seconds{stat="max"} 0.004000`,
		"gunlayer_tick_overruns_total 3",
		"gunlayer_tick_utilisation 0.250",
		"gunlayer_replay_bundles 5",
		"gunlayer_replay_bytes 4096",
		`gunlayer_command_drops_total{reason="stale"} 2`,
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func solveRequest(handlers *HandlerSet, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/solve", strings.NewReader(body))
	handlers.SolveHandler().ServeHTTP(rr, req)
	return rr
}

func TestSolveHandlerReturnsSolution(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Solver:     lead.NewSolver(lead.WithLatencyTicks(0)),
		Ballistics: ballistics.DefaultCatalog(),
		Defaults:   lead.Defaults{MaxSimDistance: 256, Charges: 2},
	})
	rr := solveRequest(handlers, `{"shooter":{"pos":{"x":0,"y":0,"z":0}},"target":{"pos":{"x":100,"y":0,"z":0},"vel":{"x":0,"y":0,"z":1}},"ballistics":{"muzzle_speed":4}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Solution lead.Solution `json:"solution"`
		Report   *lead.Report  `json:"report"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Solution.Converged || payload.Solution.FlightTicks == 0 {
		t.Fatalf("expected a converged lead, got %+v", payload.Solution)
	}
	if payload.Report == nil || payload.Report.Along <= 0 {
		t.Fatalf("expected a forward lead report, got %+v", payload.Report)
	}
}

func TestSolveHandlerMapsErrors(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Solver:     lead.NewSolver(),
		Ballistics: ballistics.DefaultCatalog(),
	})
	moving := `"shooter":{"pos":{"x":0,"y":0,"z":0}},"target":{"pos":{"x":50,"y":0,"z":0},"vel":{"x":0,"y":0,"z":1}}`
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{"shooter":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"wind":3}`, want: http.StatusBadRequest},
		{name: "missing target", body: `{"shooter":{"pos":{"x":0,"y":0,"z":0}},"ballistics":{"muzzle_speed":4}}`, want: http.StatusBadRequest},
		{name: "no charges", body: `{` + moving + `,"cannon":"bronze","projectile":"solid-shot","charges":0}`, want: http.StatusUnprocessableEntity},
		{name: "unknown cannon", body: `{` + moving + `,"cannon":"trebuchet","projectile":"solid-shot"}`, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rr := solveRequest(handlers, tc.body); rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSolveHandlerTracesFlightPath(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:   logging.NewTestLogger(),
		Solver:   lead.NewSolver(lead.WithLatencyTicks(0)),
		Defaults: lead.Defaults{MaxSimDistance: 256},
	})
	body := `{"shooter":{"pos":{"x":0,"y":0,"z":0}},"target":{"pos":{"x":100,"y":0,"z":0},"vel":{"x":0,"y":0,"z":1}},"ballistics":{"muzzle_speed":4}}`

	rr := httptest.NewRecorder()
	handlers.SolveHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/solve?trace=5", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Trace []physics.Vec3 `json:"trace"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Trace) < 2 || payload.Trace[0] != physics.Zero {
		t.Fatalf("expected a trace starting at the muzzle, got %+v", payload.Trace)
	}

	//1.- Without the query the trace is omitted, and a bad stride is rejected.
	if rr := solveRequest(handlers, body); strings.Contains(rr.Body.String(), `"trace"`) {
		t.Fatalf("trace must be opt-in: %s", rr.Body.String())
	}
	rr = httptest.NewRecorder()
	handlers.SolveHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/solve?trace=0", strings.NewReader(body)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero stride, got %d", rr.Code)
	}
}

func TestCatalogHandlerListsCannons(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Ballistics: ballistics.DefaultCatalog()})
	rr := httptest.NewRecorder()
	handlers.CatalogHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Cannons []string `json:"cannons"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	found := false
	for _, id := range payload.Cannons {
		found = found || id == "bronze"
	}
	if !found {
		t.Fatalf("expected bronze in %v", payload.Cannons)
	}

	empty := NewHandlerSet(Options{Logger: logging.NewTestLogger()})
	rr = httptest.NewRecorder()
	empty.CatalogHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a catalogue, got %d", rr.Code)
	}
}

func TestSolveHandlerRateLimits(t *testing.T) {
	limiter := &stubLimiter{}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Solver: lead.NewSolver(), SolveLimiter: limiter})
	if rr := solveRequest(handlers, `{}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	//1.- httptest requests come from 192.0.2.1; the port must not leak into the key.
	if len(limiter.callers) != 1 || limiter.callers[0] != "192.0.2.1" {
		t.Fatalf("expected solve limited per remote host, got %v", limiter.callers)
	}
}

func TestReplayFlushHandlerAuthAndRateLimits(t *testing.T) {
	flusher := &stubFlusher{location: "/tmp/replays/engagement-1"}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      flusher,
		AdminToken:  "topsecret",
		RateLimiter: &stubLimiter{remaining: 1},
	})

	makeRequest := func(token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/replay/flush", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.ReplayFlushHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := makeRequest("topsecret"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if flusher.calls != 1 {
		t.Fatalf("expected flusher invoked once, got %d", flusher.calls)
	}
	if resp := makeRequest("topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}
