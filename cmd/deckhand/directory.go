package deckhand

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/directory"
	"github.com/igorsilveira/deckhand/pkg/gateway"
	"github.com/spf13/cobra"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Serve the agent directory",
	RunE:  runDirectory,
}

func runDirectory(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer startTracing(ctx, "directory")()

	store, err := openDirectoryStore(ctx, cfg.Directory)
	if err != nil {
		return err
	}
	auditLog, closeAudit, err := openAudit()
	if err != nil {
		_ = store.Close()
		return err
	}
	defer closeAudit()

	reg := directory.NewRegistry(store, directory.WithAuditLog(auditLog), directory.WithLogger(logger))
	defer func() { _ = reg.Close() }()

	if err := reg.Seed(ctx, seedRegistrations(cfg.Directory.Cards)); err != nil {
		return fmt.Errorf("seeding directory: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Bind:    cfg.Directory.Bind,
		Port:    cfg.Directory.Port,
		Logger:  logger,
		Handler: directory.NewHandler(reg, logger),
		Mounts: []gateway.Mount{
			{Pattern: "/mcp", Handler: directory.MCPHandler(directory.NewMCPServer(reg, version))},
		},
		Ready: func(ctx context.Context) error {
			_, err := reg.List(ctx)
			return err
		},
	})
	logger.Info("directory starting",
		slog.String("addr", gw.Addr()),
		slog.String("store", cfg.Directory.Store),
		slog.Int("seeded", len(cfg.Directory.Cards)),
	)
	return gw.Start(ctx)
}

func openDirectoryStore(ctx context.Context, c config.DirectoryConfig) (directory.Store, error) {
	switch c.Store {
	case "", "memory":
		return directory.NewMemoryStore(), nil
	case "sqlite":
		dsn := c.DSN
		if dsn == "" {
			if err := config.EnsureDataDir(); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
			dsn = filepath.Join(config.DataDir(), "directory.db")
		}
		return directory.OpenSQLStore(dsn)
	case "redis":
		return directory.DialRedisStore(ctx, c.RedisAddr, c.RedisKey)
	default:
		return nil, fmt.Errorf("unknown directory store %q", c.Store)
	}
}

func seedRegistrations(cards []config.CardConfig) []directory.Registration {
	regs := make([]directory.Registration, 0, len(cards))
	for _, c := range cards {
		regs = append(regs, directory.Registration{
			Capability: c.Capability,
			Card: &a2a.AgentCard{
				Name:               c.Name,
				Description:        c.Description,
				URL:                c.URL,
				Version:            c.Version,
				Capabilities:       a2a.Capabilities{Streaming: c.Streaming},
				DefaultInputModes:  []string{"text"},
				DefaultOutputModes: []string{"text"},
			},
		})
	}
	return regs
}
