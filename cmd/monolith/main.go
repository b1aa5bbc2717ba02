// cmd/monolith/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/internal/app"
	"github.com/YaganovValera/collab-monolith/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "monolith",
		Short:         "Collaborative editing monolith with an embedded durable broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "print-config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
				return err
			}
			return cfg.Print(cmd.OutOrStdout())
		},
	})
	return root
}

func run(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		return err
	}
	defer log.Sync()

	log.Info("starting monolith",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
		zap.String("config.path", configPath),
	)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("monolith exited with error", zap.Error(err))
		return err
	}
	log.Info("monolith shut down cleanly")
	return nil
}
