package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pipewatch/pipewatch/internal/ctxlog"
)

// shutdownGrace bounds how long Run waits for in-flight requests and
// pipeline runs once the context is cancelled.
const shutdownGrace = 30 * time.Second

// Run starts the worker pool and serves the HTTP API until the context
// is cancelled, then drains the scheduler and closes the store. It
// blocks for the lifetime of the service.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.scheduler.Start(ctx)
	a.logger.Info("🚀 Scheduler started", "workers", a.cfg.Scheduler.Workers, "queue_size", a.cfg.Scheduler.QueueSize)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("🌐 HTTP API listening", "address", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		a.shutdown(context.Background())
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("🛑 Shutting down...")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.server.Shutdown(shCtx); err != nil {
		a.logger.Warn("HTTP server did not stop cleanly", "error", err)
	}
	a.shutdown(shCtx)
	a.logger.Info("👋 Shutdown complete.")
	return nil
}

func (a *App) shutdown(ctx context.Context) {
	if err := a.scheduler.Shutdown(ctx); err != nil {
		a.logger.Warn("Scheduler did not drain in time", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Store close failed", "error", err)
	}
}
