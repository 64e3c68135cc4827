package deckhand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/directory"
	"github.com/igorsilveira/deckhand/pkg/gateway"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"github.com/igorsilveira/deckhand/pkg/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:       "worker <outline|draft|build>",
	Short:     "Serve one stage agent",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{worker.CapabilityOutline, worker.CapabilityDraft, worker.CapabilityBuild},
	RunE:      runWorker,
}

func agentConfig(capability string) (config.AgentConfig, error) {
	switch strings.ToLower(capability) {
	case worker.CapabilityOutline:
		return cfg.Agents.Outline, nil
	case worker.CapabilityDraft:
		return cfg.Agents.Draft, nil
	case worker.CapabilityBuild:
		return cfg.Agents.Build, nil
	default:
		return config.AgentConfig{}, fmt.Errorf("unknown capability %q", capability)
	}
}

// advertisedURL is the address other processes use to reach the agent.
func advertisedURL(ac config.AgentConfig) string {
	if ac.Transport == "grpc" {
		return gateway.AdvertiseURL("grpc", ac.Bind, ac.GRPCPort)
	}
	return gateway.AdvertiseURL("http", ac.Bind, ac.Port)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ac, err := agentConfig(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer startTracing(ctx, args[0])()

	gen, err := worker.NewGenerator(cfg.Generator)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}
	agent, err := worker.New(args[0], worker.Options{
		Generator: gen,
		OutputDir: ac.OutputDir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	auditLog, closeAudit, err := openAudit()
	if err != nil {
		return err
	}
	defer closeAudit()

	baseURL := advertisedURL(ac)
	card := agent.Card(baseURL)

	// Ready only once the card is in the directory, so the supervisor
	// starts the coordinator after every stage can be found.
	var registered atomic.Bool
	registered.Store(!ac.Register)

	gw := gateway.New(gateway.Config{
		Bind:   ac.Bind,
		Port:   ac.Port,
		Logger: logger,
		Handler: a2a.NewHandler(a2a.HandlerConfig{
			Card:     card,
			Executor: agent,
			AuditLog: auditLog,
			Logger:   logger,
		}),
		Ready: func(context.Context) error {
			if !registered.Load() {
				return errors.New("not registered with directory")
			}
			return nil
		},
	})

	var grpcSrv *a2a.GRPCServer
	var grpcLn net.Listener
	if ac.GRPCPort > 0 {
		grpcLn, err = net.Listen("tcp", gateway.ResolveAddr(ac.Bind, ac.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = a2a.NewGRPCServer(card, agent, logger)
	}

	logger.Info("worker starting",
		slog.String("agent", agent.Name()),
		slog.String("capability", agent.Capability()),
		slog.String("url", baseURL),
	)

	if ac.Register {
		go func() {
			if registerWithRetry(ctx, agent, directory.NewClient(cfg.Coordinator.DirectoryURL, nil), baseURL) {
				registered.Store(true)
			}
		}()
	}
	return serveAgent(ctx, gw, grpcSrv, grpcLn)
}

// serveAgent runs the HTTP gateway and, when set, the gRPC server until
// ctx ends or either one fails. A failure stops the other.
func serveAgent(ctx context.Context, gw *gateway.Gateway, grpcSrv *a2a.GRPCServer, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Start(gctx) })
	if grpcSrv != nil {
		g.Go(func() error { return grpcSrv.Serve(gctx, grpcLn) })
	}
	return g.Wait()
}

// registerWithRetry keeps announcing the agent until the directory
// accepts it, so workers can start before the directory is up.
func registerWithRetry(ctx context.Context, agent *worker.Agent, reg worker.Registrar, baseURL string) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, agent.Register(ctx, reg, baseURL)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debug("directory registration failed",
				slog.Duration("retry_in", wait),
				telemetry.Err(err),
			)
		}),
	)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("giving up on directory registration", telemetry.Err(err))
		}
		return false
	}
	logger.Info("registered with directory", slog.String("capability", agent.Capability()))
	return true
}
