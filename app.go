package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"gunlayer/broker/internal/auth"
	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/config"
	"gunlayer/broker/internal/gunnery"
	httpapi "gunlayer/broker/internal/http"
	"gunlayer/broker/internal/input"
	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/registry"
	"gunlayer/broker/internal/replay"
	"gunlayer/broker/internal/rpc"
	"gunlayer/broker/internal/simulation"
	"gunlayer/broker/internal/store"
)

const (
	gunneryPath         = "/ws"
	shutdownTimeout     = 10 * time.Second
	retentionInterval   = time.Hour
	adminRateLimitCalls = 5
	tokenLeeway         = 2 * time.Second
)

var errStarting = errors.New("service is starting")

// app owns every long-lived component of the gunlayer process.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	started time.Time
	ready   atomic.Bool

	catalog   ballistics.Catalog
	solver    *lead.Solver
	store     *store.Store
	endpoints *registry.Endpoints
	loop      *simulation.Loop
	monitor   *simulation.TickMonitor
	recorder  *replay.Writer
	cleaner   *replay.Cleaner
	station   *gunnery.Station
	gate      *input.Gate
	hub       *gunnery.Hub

	httpServer *http.Server
	grpcServer *grpc.Server

	closeOnce sync.Once
}

// newApp assembles the service from configuration. Nothing listens until run.
func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	if logger == nil {
		logger = logging.L()
	}
	a := &app{cfg: cfg, logger: logger, started: time.Now(), catalog: ballistics.DefaultCatalog()}

	//1.- Resolve the mounted shot up front; an unknown cannon is a configuration error.
	params, err := a.catalog.Params(cfg.Mount.Cannon, cfg.Mount.Projectile, cfg.Mount.Charges)
	if err != nil {
		return nil, fmt.Errorf("mount ballistics: %w", err)
	}
	a.solver = lead.NewSolver(
		lead.WithLatencyTicks(cfg.Lead.LatencyTicks),
		lead.WithMaxIters(cfg.Lead.MaxIters),
		lead.WithDrag(cfg.Lead.Drag),
		lead.WithLogger(logger.With(logging.String("component", "lead"))),
	)

	//2.- Persistent state: the endpoint registry is reloaded before the trigger registers itself.
	a.store, err = store.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	a.endpoints = registry.NewEndpoints()
	loaded, err := a.store.LoadEndpoints(a.endpoints)
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("load endpoints: %w", err)
	}

	a.loop = simulation.NewLoop(cfg.TickHz, a.step)
	a.monitor = simulation.NewTickMonitor(a.loop.StepDuration())
	a.loop.WithMonitor(a.monitor)

	if err := a.openRecorder(params); err != nil {
		a.store.Close()
		return nil, err
	}

	opts := []gunnery.Option{
		gunnery.WithSolver(a.solver),
		gunnery.WithRegistry(a.endpoints),
		gunnery.WithShotLog(a.store),
		gunnery.WithLogger(logger.With(logging.String("component", "gunnery"))),
	}
	if a.recorder != nil {
		opts = append(opts, gunnery.WithRecorder(a.recorder))
	}
	a.station = gunnery.NewStation(gunnery.Config{
		ID:             cfg.Mount.ID,
		Dimension:      cfg.Mount.Dimension,
		Position:       registry.BlockPos{X: cfg.Mount.X, Y: cfg.Mount.Y, Z: cfg.Mount.Z},
		Ballistics:     params,
		FireDelayTicks: cfg.Lead.FireDelayTicks,
		MaxSimDistance: cfg.Lead.MaxSimDistance,
		Model:          lead.ParseModel(cfg.Lead.Model),
	}, a.loop, opts...)

	//3.- A saved trigger comes back unpowered at its last accepted position.
	if state, ok, err := a.store.LoadTrigger(cfg.Mount.ID); err != nil {
		logger.Warn("trigger state unavailable", logging.Error(err))
	} else if ok {
		a.station.RestoreTrigger(state)
	}
	logger.Info("mount ready",
		logging.String("mount", cfg.Mount.ID),
		logging.String("cannon", cfg.Mount.Cannon),
		logging.Float64("muzzle_speed", params.MuzzleSpeed),
		logging.Int("endpoints_loaded", loaded),
	)

	a.gate = input.NewGate(input.Config{
		MaxAge:      cfg.Commands.MaxAge,
		MinInterval: cfg.Commands.MinInterval,
	}, input.WithLogger(logger.With(logging.String("component", "gate"))))
	hubOpts := []gunnery.HubOption{
		gunnery.WithAllowedOrigins(cfg.AllowedOrigins),
		gunnery.WithPingInterval(cfg.PingInterval),
		gunnery.WithMaxPayload(cfg.MaxPayloadBytes),
		gunnery.WithCommandGate(a.gate),
		gunnery.WithHubLogger(logger.With(logging.String("component", "hub"))),
	}
	//4.- Operator tokens are scoped to this mount so one secret can serve a battery.
	if cfg.WSAuthSecret != "" {
		verifier, err := auth.NewVerifier(cfg.WSAuthSecret, auth.WithAudience(cfg.Mount.ID), auth.WithLeeway(tokenLeeway))
		if err != nil {
			a.close()
			return nil, err
		}
		hubOpts = append(hubOpts, gunnery.WithAuthenticator(verifier))
	} else {
		logger.Warn("gunnery websocket accepts unauthenticated operators")
	}
	a.hub = gunnery.NewHub(a.station, hubOpts...)

	if err := a.buildServers(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRecorder(params ballistics.Params) error {
	dir := a.cfg.Replay.Dir
	if dir == "" || dir == config.ReplayDisabled {
		return nil
	}
	writer, _, err := replay.NewWriter(dir, a.cfg.Mount.ID, time.Now)
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	shot := params
	writer.SetHeader(replay.Header{
		SchemaVersion: replay.HeaderSchemaVersion,
		MountID:       a.cfg.Mount.ID,
		Dimension:     a.cfg.Mount.Dimension,
		Cannon:        a.cfg.Mount.Cannon,
		Projectile:    a.cfg.Mount.Projectile,
		Ballistics:    &shot,
		TickHz:        a.cfg.TickHz,
	})
	a.recorder = writer
	a.cleaner = replay.NewCleaner(dir, replay.RetentionPolicy{
		MaxBundles: a.cfg.Replay.MaxBundles,
		MaxAge:     a.cfg.Replay.MaxAge,
	}, a.logger.With(logging.String("component", "replay")))
	return nil
}

func (a *app) buildServers() error {
	defaults := lead.Defaults{
		FireDelayTicks: a.cfg.Lead.FireDelayTicks,
		MaxSimDistance: a.cfg.Lead.MaxSimDistance,
		Charges:        a.cfg.Mount.Charges,
		Model:          lead.ParseModel(a.cfg.Lead.Model),
	}

	handlerOpts := httpapi.Options{
		Logger:       a.logger.With(logging.String("component", "http")),
		Readiness:    a,
		Solver:       a.solver,
		Ballistics:   a.catalog,
		Defaults:     defaults,
		Trigger:      a,
		TickStats:    a.monitor.Snapshot,
		CommandDrops: a.gate.Totals,
		AdminToken:   a.cfg.AdminToken,
		RateLimiter:  httpapi.NewCallerLimiter(time.Minute, adminRateLimitCalls),
		SolveLimiter: httpapi.NewCallerLimiter(time.Second, a.cfg.SolveRateLimit),
	}
	if a.recorder != nil {
		handlerOpts.Replay = a
		handlerOpts.ReplayStats = a.cleaner.Stats
	}
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(handlerOpts).Register(mux)
	mux.Handle(gunneryPath, a.hub)
	registerCommandDocEndpoint(mux)
	a.httpServer = &http.Server{
		Addr:              a.cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(a.logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcOpts, err := configureGRPCSecurity(a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.grpcServer = grpc.NewServer(grpcOpts...)
	rpc.RegisterLeadServer(a.grpcServer, rpc.NewService(a.solver, a.catalog,
		rpc.WithGunnery(a.station),
		rpc.WithDefaults(defaults),
		rpc.WithLogger(a.logger.With(logging.String("component", "rpc"))),
	))
	return nil
}

// run serves until ctx is cancelled or a listener fails, then shuts down and persists state.
func (a *app) run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", a.cfg.Address)
	if err != nil {
		a.close()
		return fmt.Errorf("listen http: %w", err)
	}
	grpcListener, err := net.Listen("tcp", a.cfg.GRPCAddress)
	if err != nil {
		httpListener.Close()
		a.close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	a.loop.Start(ctx)
	if a.cleaner != nil {
		go a.cleaner.Run(ctx, retentionInterval)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := a.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := a.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	a.ready.Store(true)
	a.logger.Info("gunlayer listening",
		logging.String("http", listenerURL(a.cfg.Address)),
		logging.String("gunnery", gunneryURL(a.cfg.Address)),
		logging.String("grpc", normaliseHostPort(a.cfg.GRPCAddress)),
		logging.Float64("tick_hz", a.cfg.TickHz),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	a.shutdown()
	return runErr
}

func (a *app) shutdown() {
	a.ready.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	//1.- Stop accepting work before the trigger is released and persisted.
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", logging.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}
	a.loop.Stop()
	a.station.Hold()
	a.close()
}

// close persists trigger and registry state and releases storage. Safe to call twice.
func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.hub != nil {
			a.hub.Close()
		}
		if a.station != nil {
			if err := a.store.SaveTrigger(a.cfg.Mount.ID, a.station.TriggerState()); err != nil {
				a.logger.Error("persist trigger", logging.Error(err))
			}
		}
		if a.endpoints != nil {
			for _, dim := range a.endpoints.Dimensions() {
				if err := a.store.SaveEndpoints(dim, a.endpoints.Positions(dim)); err != nil {
					a.logger.Error("persist endpoints", logging.String("dimension", dim), logging.Error(err))
				}
			}
		}
		if a.recorder != nil {
			if err := a.recorder.Close(); err != nil {
				a.logger.Error("close replay", logging.Error(err))
			}
		}
		if err := a.store.Close(); err != nil {
			a.logger.Error("close store", logging.Error(err))
		}
	})
}

// step advances one simulation tick.
func (a *app) step(tick int64, dt time.Duration) {
	a.station.Step(tick, dt)
}

// Clients implements httpapi.ReadinessProvider.
func (a *app) Clients() int { return a.hub.Clients() }

// StartupError implements httpapi.ReadinessProvider.
func (a *app) StartupError() error {
	if !a.ready.Load() {
		return errStarting
	}
	return nil
}

// Uptime implements httpapi.ReadinessProvider.
func (a *app) Uptime() time.Duration { return time.Since(a.started) }

// Powered implements httpapi.TriggerStatus.
func (a *app) Powered() bool { return a.station.Powered() }

// Tick implements httpapi.TriggerStatus.
func (a *app) Tick() int64 { return a.loop.Now() }

// FlushReplay implements httpapi.ReplayFlusher.
func (a *app) FlushReplay(context.Context) (string, error) {
	if err := a.recorder.Flush(); err != nil {
		return "", err
	}
	return a.recorder.Directory(), nil
}
