package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pipewatch/pipewatch/internal/api"
	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/engine"
	"github.com/pipewatch/pipewatch/internal/model"
	"github.com/pipewatch/pipewatch/internal/scheduler"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/internal/store/memory"
	"github.com/pipewatch/pipewatch/internal/store/sqlite"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store.Store
	scheduler *scheduler.Scheduler
	server    *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger, with the
// whole chain wired: store, execution engine, scheduler and HTTP API.
func NewApp(outW io.Writer, cfg config.Config) (*App, error) {
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, outW)
	logger.Debug("Logger configured successfully.")

	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	logger.Debug("Store opened.", "driver", cfg.Storage.Driver)

	notifier := &storeNotifier{store: st, logger: logger}
	eng := engine.New(engine.Options{
		Notifier:      notifier,
		StepTimeout:   cfg.Execution.StepTimeout,
		WorkspaceRoot: cfg.Execution.Workspace,
		KeepWorkspace: cfg.Execution.KeepWorkspace,
	})

	sched := scheduler.New(scheduler.Options{
		Executor:     eng,
		Store:        st,
		Notifier:     notifier,
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		PerRepoLimit: cfg.Scheduler.PerRepoLimit,
	})

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		scheduler: sched,
		server: &http.Server{
			Addr:    cfg.Server.Listen,
			Handler: api.NewServer(sched, st).Router(),
		},
	}, nil
}

func openStore(cfg config.Storage) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Path, cfg.PoolSize)
	default:
		return memory.New(), nil
	}
}

// storeNotifier persists every run snapshot the scheduler and engine
// publish. Failures are logged, never propagated: losing a snapshot
// must not interrupt a pipeline mid-flight.
type storeNotifier struct {
	store  store.Store
	logger *slog.Logger
}

func (n *storeNotifier) RunUpdated(rec model.RunRecord) {
	if err := n.store.SaveRun(context.Background(), rec); err != nil {
		n.logger.Error("Failed to persist run snapshot", "run_id", rec.ID, "error", err)
	}
}
