package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lumoqi/trainbase/internal/infra/config"
	"github.com/lumoqi/trainbase/internal/vectorizer"
)

// App ties together the HTTP server, the vectorization worker pool, and the
// reaper, and shuts them down together.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	server *http.Server
	pool   *vectorizer.Pool
	reaper *vectorizer.Reaper
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, pool *vectorizer.Pool, reaper *vectorizer.Reaper) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With("component", "bootstrap"),
		server: server,
		pool:   pool,
		reaper: reaper,
	}
}

// Run starts all components and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.pool.Run(runCtx); err != nil {
			a.logger.Error("worker pool stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		a.reaper.Run(runCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	cancel()
	wg.Wait()
	a.pool.Close()
	return runErr
}
