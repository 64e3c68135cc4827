package deckhand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/igorsilveira/deckhand/pkg/supervisor"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the directory, the three workers and the coordinator",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	auditLog, closeAudit, err := openAudit()
	if err != nil {
		return err
	}
	defer closeAudit()

	logger.Info("starting deckhand",
		slog.String("version", version),
		slog.Int("directory_port", cfg.Directory.Port),
		slog.Int("coordinator_port", cfg.Coordinator.Port),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup := supervisor.New(supervisor.Processes(exe, cfgFile, cfg), supervisor.Options{
		ReadyTimeout: cfg.Supervisor.ReadyTimeout.Duration,
		Grace:        cfg.Supervisor.Grace.Duration,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		AuditLog:     auditLog,
		Logger:       logger,
	})
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}
	logger.Info("all services ready", slog.String("coordinator", cfg.Client.CoordinatorURL))

	runErr := sup.Wait(ctx)
	var exitErr *supervisor.ExitError
	if errors.As(runErr, &exitErr) {
		logger.Error("service exited", slog.String("name", exitErr.Name), telemetry.Err(exitErr.Err))
	}
	logger.Info("shutting down")

	stopCtx, stop := context.WithTimeout(context.Background(), 6*cfg.Supervisor.Grace.Duration)
	defer stop()
	if err := sup.Shutdown(stopCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
