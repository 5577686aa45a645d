package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "countbot",
	Short: "CountBot - agentic execution and scheduling engine",
	Long: `CountBot runs an LLM reasoning loop with tool calling, a precise-wake
job scheduler, and background subagent tasks, delivering scheduled output
to chat channels.`,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cronCmd)
}
