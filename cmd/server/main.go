package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"airdrop_manager/internal/app"
	"airdrop_manager/internal/config"
	"airdrop_manager/internal/logging"
	"airdrop_manager/internal/model"
)

var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "airdrop-manager",
		Short: "Multi-account web automation orchestrator",
		Long: `airdrop-manager runs project interactions across many accounts, each in an
isolated browser session behind its own proxy, and tracks the points they earn.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "path to config.yaml")
	rootCmd.AddCommand(serveCmd(), proxySweepCmd(), versionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, falling back to defaults when the file is
// missing so a bare checkout can start.
func loadConfig() (config.Config, bool, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return config.Config{}, false, fmt.Errorf("load config: %w", err)
	}
	return cfg, true, nil
}

func serveCmd() *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket stream and task scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, fromFile, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log)
			defer func() { _ = logger.Sync() }()
			if !fromFile {
				logger.Warn("config file not found, using defaults", zap.String("path", configPath))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := app.Options{Config: cfg, Logger: logger}
			if fromFile {
				opts.ConfigPath = configPath
			}
			a, err := app.New(ctx, opts)
			if err != nil {
				return err
			}
			return a.Run(ctx, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "grace period for stopping tasks and sessions")
	return cmd
}

func proxySweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proxy-sweep",
		Short: "Probe every stored proxy once and persist the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Metrics.Enabled = new(bool)
			logger := logging.New(cfg.Log)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.Close(cctx)
			}()

			results, err := a.Proxies.TestAll(ctx)
			active := 0
			for _, r := range results {
				if r.Status == model.ProxyActive {
					active++
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(map[string]any{"results": results, "active": active, "total": len(results)}); encErr != nil {
				return encErr
			}
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
