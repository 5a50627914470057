// Package app wires configuration, the listening socket, and the HTTP
// server together, and runs them under a cancellation group so SIGINT/
// SIGTERM produce an actual graceful shutdown — the teacher's own app.go
// starts an equivalent signal watcher but stops at
// `// TODO: Implement graceful shutdown` before calling os.Exit(0)
// unconditionally. This repo finishes that TODO with
// golang.org/x/sync/errgroup instead of leaving it.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kiprey/gowebserver/internal/config"
	"github.com/kiprey/gowebserver/internal/httpserver"
	"github.com/kiprey/gowebserver/internal/netutil"
)

// workerCount is the default worker pool size spec.md §5 names.
const workerCount = 8

// maxQueue bounds how many connection-steps may sit queued before submit
// starts rejecting and the Acceptor falls back to destroying the
// Connection outright.
const maxQueue = 4096

// App is the top-level process: one listening socket, one Server.
type App struct {
	cfg    *config.Config
	server *httpserver.Server
	logger zerolog.Logger
}

// New binds the listening socket and constructs the Server. It does not
// start serving; call Run for that.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	listenFD, err := netutil.BindAndListen(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}

	srv, err := httpserver.NewServer(listenFD, cfg.DocRoot, workerCount, maxQueue, logger.With().Str("component", "httpserver").Logger())
	if err != nil {
		syscall.Close(listenFD)
		return nil, fmt.Errorf("new server: %w", err)
	}

	return &App{cfg: cfg, server: srv, logger: logger}, nil
}

// Run drives the server until ctx is cancelled or a termination signal
// arrives, whichever comes first, then waits for a graceful shutdown to
// finish.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})

	<-gctx.Done()
	a.logger.Info().Msg("shutdown signal received, draining connections")

	return g.Wait()
}
