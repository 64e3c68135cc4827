package deckhand

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/directory"
	"github.com/igorsilveira/deckhand/pkg/events"
	"github.com/igorsilveira/deckhand/pkg/gateway"
	"github.com/igorsilveira/deckhand/pkg/pipeline"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"github.com/spf13/cobra"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Serve the pipeline coordinator",
	RunE:  runCoordinator,
}

// lister is what /readyz asks of the directory connection.
type lister interface {
	directory.Finder
	List(ctx context.Context) ([]directory.Registration, error)
}

func newFinder() (lister, func(), error) {
	base := strings.TrimRight(cfg.Coordinator.DirectoryURL, "/")
	switch cfg.Coordinator.Discovery {
	case "", "http":
		return directory.NewClient(base, nil), func() {}, nil
	case "mcp":
		c := directory.NewMCPClient(base+"/mcp", version)
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown discovery mode %q", cfg.Coordinator.Discovery)
	}
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer startTracing(ctx, "coordinator")()

	finder, closeFinder, err := newFinder()
	if err != nil {
		return err
	}
	defer closeFinder()

	sink, err := events.New(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing event sink", telemetry.Err(err))
		}
	}()

	auditLog, closeAudit, err := openAudit()
	if err != nil {
		return err
	}
	defer closeAudit()

	transport := a2a.NewTransport(nil, nil)
	defer func() { _ = transport.Close() }()

	coord := pipeline.New(pipeline.Options{
		Finder:          finder,
		Invoker:         transport,
		Retry:           pipeline.RetryFromConfig(cfg.Coordinator.Retry),
		PipelineTimeout: cfg.Coordinator.PipelineTimeout.Duration,
		StageTimeout:    cfg.Coordinator.StageTimeout.Duration,
		Events:          sink,
		AuditLog:        auditLog,
		Logger:          logger,
	})

	baseURL := gateway.AdvertiseURL("http", cfg.Coordinator.Bind, cfg.Coordinator.Port)
	gw := gateway.New(gateway.Config{
		Bind:   cfg.Coordinator.Bind,
		Port:   cfg.Coordinator.Port,
		Logger: logger,
		Handler: a2a.NewHandler(a2a.HandlerConfig{
			Card:     coord.Card(baseURL, version),
			Executor: coord,
			AuditLog: auditLog,
			Logger:   logger,
		}),
		Executor: coord,
		Ready: func(ctx context.Context) error {
			_, err := finder.List(ctx)
			return err
		},
	})

	logger.Info("coordinator starting",
		slog.String("url", baseURL),
		slog.String("directory", cfg.Coordinator.DirectoryURL),
		slog.String("discovery", cfg.Coordinator.Discovery),
	)
	return gw.Start(ctx)
}
