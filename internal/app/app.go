package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"session-guard/internal/authclient"
	"session-guard/internal/config"
	"session-guard/internal/database"
	"session-guard/internal/diag"
	"session-guard/internal/event"
	"session-guard/internal/guard"
	"session-guard/internal/handler"
	"session-guard/internal/inspector"
	"session-guard/internal/journal"
	"session-guard/internal/middleware"
	"session-guard/internal/model"
	"session-guard/internal/router"
	"session-guard/internal/store"
	"session-guard/internal/stream"
)

const (
	shutdownTimeout   = 10 * time.Second
	sseHeartbeat      = 15 * time.Second
	startupRepairWait = time.Minute
)

type App struct {
	cfg          *config.Config
	server       *http.Server
	guard        *guard.Orchestrator
	hub          *stream.Hub
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	backend, healthChecks, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	credentialStore := store.New(backend)

	client, err := authclient.New(authclient.Config{
		BaseURL:        cfg.IdentityBaseURL,
		LoginPath:      cfg.LoginPath,
		ProbePath:      cfg.ProbePath,
		Timeout:        cfg.AuthTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
		Encoding:       authclient.Encoding(cfg.LoginEncoding),
		SendGrantType:  cfg.SendGrantType,
		MinTokenLength: cfg.MinTokenLength,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize identity client: %w", err)
	}
	credentialStore.SetCookieJar(client.Jar())

	bus := event.NewBus()
	reporter := diag.Multi{
		diag.NewSlogReporter(slog.Default().With("component", "guard")),
		diag.NewBusReporter(bus),
	}

	insp := inspector.New(credentialStore,
		inspector.WithProber(client),
		inspector.WithMinTokenLength(cfg.MinTokenLength),
		inspector.WithReporter(reporter),
	)

	runJournal, err := journal.New(cfg.JournalFile)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize repair journal: %w", err)
	}

	opts := []guard.Option{
		guard.WithShell(NewLogShell(slog.Default())),
		guard.WithRecorder(runJournal),
		guard.WithReporter(reporter),
		guard.WithEventBus(bus),
	}
	if cfg.AllowEnvCredentials {
		slog.Warn("recovery credentials taken from the environment", "username", cfg.GuardUsername)
		creds := model.Credentials{Username: cfg.GuardUsername, Password: cfg.GuardPassword}
		opts = append(opts, guard.WithCredentialSource(guard.CredentialSourceFunc(func(context.Context) (model.Credentials, error) {
			return creds, nil
		})))
	}

	a.guard = guard.New(credentialStore, client, insp, guard.Config{
		MaxExtraAttempts: cfg.RepairMaxExtraAttempts,
		RetryBackoff:     cfg.RepairBackoff,
		PersistTimeout:   cfg.PersistTimeout,
		RatePerMinute:    cfg.RepairRatePerMinute,
	}, opts...)

	a.hub = stream.NewHub(bus)

	healthHandler := handler.NewHealthHandler(healthChecks)
	sessionHandler := handler.NewSessionHandler(a.guard, insp, runJournal)
	eventsHandler := handler.NewEventsHandler(a.hub, sseHeartbeat)
	authMiddleware := middleware.NewAuthMiddleware(cfg.OperatorJWTSecret)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.New(cfg, authMiddleware, healthHandler, sessionHandler, eventsHandler),
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) openBackend(ctx context.Context) (store.Backend, map[string]handler.HealthCheck, error) {
	switch a.cfg.StoreBackend {
	case config.StoreMemory:
		slog.Warn("using in-memory credential store; sessions will not survive a restart")
		return store.NewMemoryBackend(), nil, nil

	case config.StorePostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := database.EnsureSchema(ctx, db.Pool); err != nil {
			a.cleanup()
			return nil, nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		slog.Info("database ready", "namespace", a.cfg.StoreNamespace)

		checks := map[string]handler.HealthCheck{"database": db.Health}
		return store.NewPostgresBackend(db.Pool, a.cfg.StoreNamespace), checks, nil

	default:
		if a.cfg.StorePassphrase == "" {
			slog.Warn("STORE_PASSPHRASE is empty; credential file is stored unsealed", "path", a.cfg.StoreFile)
		}
		backend, err := store.NewFileBackend(a.cfg.StoreFile, a.cfg.StorePassphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential file: %w", err)
		}
		return backend, nil, nil
	}
}

// Run serves until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.cfg.RepairOnStartup {
		a.startupRepair(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			a.cleanup()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Close SSE streams first so Shutdown does not wait on them.
	stopHub()
	err := a.server.Shutdown(shutdownCtx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) startupRepair(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupRepairWait)
	defer cancel()

	outcome, err := a.guard.Startup(ctx)
	if err != nil {
		slog.Warn("startup repair did not restore the session",
			"state", outcome.State,
			"error_kind", model.ErrorKind(err),
			"error", err,
		)
		return
	}
	slog.Info("startup inspection finished", "state", outcome.State, "session", outcome.SessionState)
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
