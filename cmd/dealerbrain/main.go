// Package main implements the dealerbrain daemon: the persistent memory and
// pattern-intelligence core for dealership conversation agents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facemydealer/dealerbrain/internal/config"
	"github.com/facemydealer/dealerbrain/internal/embeddings"
	"github.com/facemydealer/dealerbrain/internal/learning"
	"github.com/facemydealer/dealerbrain/internal/logging"
	"github.com/facemydealer/dealerbrain/internal/memory"
	"github.com/facemydealer/dealerbrain/internal/storage"
	"github.com/facemydealer/dealerbrain/internal/threat"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dealerbrain",
	Short: "Memory and pattern-intelligence core for dealership agents",
	Long: `dealerbrain is the persistent memory store, threat pattern engine, and
learning pattern engine behind FaceMyDealer conversation agents.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon and background maintenance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dealerbrain\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// run wires the services and blocks until SIGINT or SIGTERM.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting dealerbrain",
		zap.String("version", version),
		zap.String("storage_path", cfg.Storage.Path))

	store, err := storage.Open(cfg.Storage.Path, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}
	if embedder != nil {
		defer embedder.Close()
	}

	memories, err := memory.NewService(store, embedder, cfg.Memory, logger.Named("memory"))
	if err != nil {
		return fmt.Errorf("initializing memory service: %w", err)
	}

	if _, err := threat.NewEngine(ctx, store.ThreatPatterns, store, memories, cfg.Threat, logger.Named("threat")); err != nil {
		return fmt.Errorf("initializing threat engine: %w", err)
	}

	if _, err := learning.NewEngine(ctx, store.LearningPatterns, memories, logger.Named("learning")); err != nil {
		return fmt.Errorf("initializing learning engine: %w", err)
	}

	scheduler, err := memory.NewMaintenanceScheduler(memories, logger.Named("maintenance"),
		memory.WithInterval(cfg.Maintenance.Interval),
		memory.WithAccounts(cfg.Maintenance.Accounts),
		memory.WithConsolidation(cfg.Maintenance.Consolidate))
	if err != nil {
		return fmt.Errorf("initializing maintenance scheduler: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting maintenance scheduler: %w", err)
	}
	defer scheduler.Stop()

	logger.Info("dealerbrain ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.Error(ctx.Err()))
	}
	return nil
}
