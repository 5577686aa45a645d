package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mozhuanzuojing/CountBot/internal/config"
)

const defaultConfigPath = "config.toml"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if errs := cfg.Validate(); len(errs) > 0 {
			fmt.Fprintf(os.Stderr, "Configuration has %d problem(s):\n", len(errs))
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  - %v\n", e)
			}
			os.Exit(1)
		}

		fmt.Println("Configuration is valid")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show effective configuration with secrets masked",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("workspace.path        = %s\n", cfg.Workspace.Path)
		fmt.Printf("workspace.timezone    = %s\n", cfg.Workspace.Timezone)
		fmt.Printf("agent.model           = %s\n", cfg.Agent.Model)
		fmt.Printf("agent.max_iterations  = %d\n", cfg.Agent.MaxIterations)
		fmt.Printf("llm.api_key           = %s\n", config.MaskAPIKey(cfg.LLM.APIKey))
		fmt.Printf("llm.base_url          = %s\n", cfg.LLM.BaseURL)
		fmt.Printf("logging.level         = %s\n", cfg.Logging.Level)
		fmt.Printf("scheduler.enabled     = %v\n", cfg.Scheduler.Enabled)
		fmt.Printf("scheduler.max_concurrent = %d\n", cfg.Scheduler.MaxConcurrent)
		fmt.Printf("subagent.enabled      = %v\n", cfg.Subagent.Enabled)
		fmt.Printf("telegram.enabled      = %v\n", cfg.Channels.Telegram.Enabled)
		fmt.Printf("telegram.token        = %s\n", config.MaskTelegramToken(cfg.Channels.Telegram.Token))
		fmt.Printf("storage.jobs_path     = %s\n", cfg.JobsDB())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
