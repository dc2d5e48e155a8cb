package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/forge"
	"github.com/aretw0/forge/internal/config"
	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/internal/telemetry"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Forge orchestrates AI agents over construction bid documents",
	Long: `Forge runs a project's RFQ documents through intake, enrichment, validation gates,
a go/no-go decision, grounded bid generation and multi-model review.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to forge.yaml (default ./forge.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level")
}

// loadConfig reads the --config file and applies --log-level.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(cfg.Format, "json") {
		return logging.NewJSON(os.Stderr, lvl), nil
	}
	return logging.New(lvl), nil
}

// session is an engine plus the hooks to tear it down.
type session struct {
	cfg    config.Config
	engine *forge.Engine
	logger *slog.Logger
	close  func()
}

// openSession loads configuration, installs tracing and builds the engine.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return nil, err
	}

	eng, err := forge.New(ctx, cfg, forge.WithLogger(logger))
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	return &session{
		cfg:    cfg,
		engine: eng,
		logger: logger,
		close: func() {
			if err := eng.Close(); err != nil {
				logger.Warn("failed to close stores", "err", err)
			}
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("failed to flush traces", "err", err)
			}
		},
	}, nil
}
