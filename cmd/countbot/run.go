package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mozhuanzuojing/CountBot/internal/app"
	"github.com/mozhuanzuojing/CountBot/internal/config"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

var (
	runConfigPath string
	runSessionID  string
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Process one message and print the final response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHandler,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", defaultConfigPath, "config file path")
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id (random when empty)")
}

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadApp(runConfigPath)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer a.Stop()

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	result, err := a.ProcessMessage(context.Background(), sessionID, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Println(result)
	return nil
}

// loadApp loads and validates configuration and builds the logger.
func loadApp(path string) (*config.Config, *logger.Logger, error) {
	_ = config.LoadEnvOptional(".env")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", e)
		}
		return nil, nil, fmt.Errorf("configuration is invalid (%d errors)", len(errs))
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
