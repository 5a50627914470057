// Command webserver is the process entry point: parse the CLI, bind the
// socket, install SIGPIPE handling, and run the server until a termination
// signal asks for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kiprey/gowebserver/internal/app"
	"github.com/kiprey/gowebserver/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// SIGPIPE ignored process-wide so a write to a peer that has already
	// closed its side surfaces as an EPIPE write error instead of killing
	// the process, per spec.md §5.
	signal.Ignore(syscall.SIGPIPE)

	logger := zerolog.New(zerolog.SyncWriter(os.Stderr)).With().Timestamp().Logger()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	a, err := app.New(cfg, logger.With().Str("component", "app").Logger())
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return 1
	}

	logger.Info().Int("port", cfg.Port).Str("doc_root", cfg.DocRoot).Msg("listening")

	if err := a.Run(context.Background()); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return 1
	}
	return 0
}
