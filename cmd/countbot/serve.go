package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mozhuanzuojing/CountBot/internal/app"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
	"github.com/mozhuanzuojing/CountBot/internal/version"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent service",
	Long: `Start the agent with the scheduler and delivery channels and run
until interrupted.`,
	RunE: serveHandler,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", defaultConfigPath, "config file path")
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadApp(serveConfigPath)
	if err != nil {
		return err
	}

	log.Info("starting countbot",
		logger.Field{Key: "version", Value: version.Version},
		logger.Field{Key: "config", Value: serveConfigPath},
		logger.Field{Key: "workspace", Value: cfg.Workspace.Path})

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", logger.Field{Key: "signal", Value: sig.String()})

	cancel()
	return a.Stop()
}
