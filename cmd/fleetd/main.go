// Command fleetd is the fleet coordination server: it wires every
// component together and serves the HTTP+WS surface. Construction is
// phased: store, then domain components, then the API, then
// background ticks, then graceful shutdown. This server runs
// single-node; there is no leader-election phase (see DESIGN.md).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sethdford/fleetctl/internal/admission"
	"github.com/sethdford/fleetctl/internal/authn"
	"github.com/sethdford/fleetctl/internal/blackboard"
	"github.com/sethdford/fleetctl/internal/config"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/httpapi"
	"github.com/sethdford/fleetctl/internal/idempotency"
	"github.com/sethdford/fleetctl/internal/janitor"
	"github.com/sethdford/fleetctl/internal/middleware"
	"github.com/sethdford/fleetctl/internal/spawnqueue"
	"github.com/sethdford/fleetctl/internal/store"
	"github.com/sethdford/fleetctl/internal/trigger"
	"github.com/sethdford/fleetctl/internal/worker"
	"github.com/sethdford/fleetctl/internal/workflow"
	"github.com/sethdford/fleetctl/internal/wsfanout"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)

	if err := run(cfg, logger); err != nil {
		logger.Error("fleetd exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be set to at least 32 bytes; refusing to start with a weak secret")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store opened", "backend", cfg.StoreBackend)

	bus := eventbus.New(cfg.EventBusQueueSize, logger, prometheus.DefaultRegisterer)

	workerCfg := worker.DefaultConfig()
	workerCfg.OutputBufferLines = cfg.WorkerOutputBufferLines
	workerCfg.RestartBudgetPerHour = cfg.WorkerRestartBudgetHour
	workerCfg.SpawnTimeout = cfg.WorkerSpawnTimeout
	workerCfg.SendTimeout = cfg.WorkerSendTimeout
	workerCfg.GracefulDeadline = cfg.WorkerGracefulDeadline
	supervisor := worker.New(workerCfg, st, bus, logger, nil)

	spawnQueue := spawnqueue.New(st, bus, logger, 1.0, 5)
	board := blackboard.New(st, bus)
	engine := workflow.New(st, bus, spawnQueue, cfg.WorkflowStuckTimeout, logger)
	dispatcher := trigger.New(st, bus, engine, logger)

	issuer, err := authn.New(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return err
	}

	hub := wsfanout.New(bus, httpapi.IssuerAuthenticator{Issuer: issuer}, wsfanout.Config{
		WriteTimeout: cfg.WSWriteTimeout,
		PingInterval: cfg.WSPingInterval,
		ReadTimeout:  cfg.WSReadTimeout,
	}, logger, prometheus.DefaultRegisterer)

	idemStore, err := openIdempotencyStore(cfg, logger)
	if err != nil {
		return err
	}

	admitter := admission.New(spawnQueue, supervisor, logger, 10)
	jan := janitor.New(st, cfg.WorktreeRoot, logger)

	api := httpapi.New(st, bus, supervisor, spawnQueue, board, engine, dispatcher, hub, issuer, idemStore, logger)

	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: middleware.CORS(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go admission.BridgeFulfillment(ctx, bus, engine)
	go runTick(ctx, cfg.SpawnQueueTick, admitter.Tick)
	go runTick(ctx, cfg.WorkflowTick, engine.ProcessExecutions)
	go runTick(ctx, cfg.TriggerTick, dispatcher.ProcessTriggers)
	go runTick(ctx, cfg.HealthTick, func(ctx context.Context) { supervisor.CheckHealth(ctx, cfg.HealthTick*3) })
	go runTick(ctx, cfg.JanitorTick, func(ctx context.Context) { jan.Clean(ctx) })

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("fleetd listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	dispatcher.Close()
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(context.Background(), cfg.PostgresDSN)
	default:
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
}

// openIdempotencyStore prefers Redis when configured so idempotency
// keys survive a restart; falls back to the in-process memory cache
// otherwise.
func openIdempotencyStore(cfg *config.Config, logger *slog.Logger) (*idempotency.Store, error) {
	if cfg.RedisAddr == "" {
		return idempotency.NewStore(nil, logger), nil
	}
	backend, err := idempotency.NewRedisBackend(cfg.RedisAddr, "", 0)
	if err != nil {
		logger.Warn("redis idempotency backend unavailable, falling back to memory", "error", err)
		return idempotency.NewStore(nil, logger), nil
	}
	return idempotency.NewStore(backend, logger), nil
}

func runTick(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
