package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/cluster"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/graph"
	"github.com/mattjoyce/autoclient/internal/handlers"
	"github.com/mattjoyce/autoclient/internal/shutdown"
)

// WorkerOptions configure RunWorker.
type WorkerOptions struct {
	Listeners []automation.EventListener
	// In and Out default to stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// RunWorker serves one cluster worker process until the master stops it.
// Interrupts are ignored since the master decides when workers stop; a
// SIGTERM asks the master to shut the whole client down and then exits.
func RunWorker(ctx context.Context, cfg *config.Store, server *handlers.Registry, opts WorkerOptions, logger *slog.Logger) error {
	id, err := cluster.WorkerIDFromEnv()
	if err != nil {
		return fmt.Errorf("worker id: %w", err)
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	hooks := shutdown.NewRegistry(logger)
	w := cluster.NewWorker(id, cfg, server, opts.In, opts.Out, cluster.WorkerOptions{
		Graphs:    graph.NewFactory(&http.Client{Timeout: 30 * time.Second}, logger.With("component", "graph")),
		Hooks:     hooks,
		Listeners: opts.Listeners,
	}, logger)

	signal.Ignore(os.Interrupt)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM)
	defer signal.Stop(term)
	go func() {
		select {
		case <-term:
			logger.Info("worker terminated, asking master to shut down")
			if err := w.RequestShutdown(); err != nil {
				logger.Warn("failed to request shutdown", "error", err)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	return nil
}
