package deckhand

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/audit"
	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"github.com/igorsilveira/deckhand/pkg/worker"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deckhand",
	Short: "Deckhand - a multi-agent slide deck pipeline",
	Long:  "Deckhand turns a topic into a slide deck by relaying it through outline, draft and build agents found in a directory service.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		c, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = c
		logger = telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		return nil
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	worker.Version = version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.deckhand/deckhand.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(directoryCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(eventsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of Deckhand",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deckhand v%s\n", version)
	},
}

// startTracing installs the exporter for one service process.
func startTracing(ctx context.Context, service string) func() {
	shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "deckhand-" + service,
		Version:     version,
	})
	if err != nil {
		logger.Warn("tracing disabled", telemetry.Err(err))
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown", telemetry.Err(err))
		}
	}
}

// openAudit returns a nil Auditor when auditing is off. The returned
// close func is always safe to call.
func openAudit() (a2a.Auditor, func(), error) {
	if !cfg.Audit.Enabled {
		return nil, func() {}, nil
	}
	if err := config.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	l, err := audit.Open(cfg.Audit.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}
