// Package config provides configuration loading and validation.
// It supports TOML configuration files with environment variable
// expansion, default values, and validation.
//
// Configuration structure:
//   - [workspace]: workspace directory and bootstrap settings
//   - [agent]: model and loop behavior
//   - [llm]: gateway connection
//   - [logging]: level, format, and output
//   - [scheduler]: job scheduling limits
//   - [subagent]: background task settings
//   - [tools]: tool configurations
//   - [channels]: delivery channel configurations (Telegram)
//   - [storage]: database paths
//
// Environment variables can be referenced using ${VAR} or ${VAR:default}
// syntax, for example: api_key = "${LLM_API_KEY}".
package config

import "path/filepath"

// Config is the root application configuration.
type Config struct {
	Workspace WorkspaceConfig `toml:"workspace"`
	Agent     AgentConfig     `toml:"agent"`
	LLM       LLMConfig       `toml:"llm"`
	Logging   LoggingConfig   `toml:"logging"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Subagent  SubagentConfig  `toml:"subagent"`
	Tools     ToolsConfig     `toml:"tools"`
	Channels  ChannelsConfig  `toml:"channels"`
	Storage   StorageConfig   `toml:"storage"`
}

// WorkspaceConfig locates the agent workspace.
type WorkspaceConfig struct {
	Path     string `toml:"path"`
	Timezone string `toml:"timezone"`
}

// SkillsDir returns the path to the skills directory.
func (c *WorkspaceConfig) SkillsDir() string {
	return filepath.Join(c.Path, "skills")
}

// AgentConfig controls the reasoning loop.
type AgentConfig struct {
	Model             string  `toml:"model"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	MaxIterations     int     `toml:"max_iterations"`
	ToolRetries       int     `toml:"tool_retries"`
	ToolRetryDelaySec int     `toml:"tool_retry_delay_seconds"`
	ToolTimeoutSec    int     `toml:"tool_timeout_seconds"`
}

// LLMConfig holds gateway connection settings.
type LLMConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// SchedulerConfig bounds scheduled job execution.
type SchedulerConfig struct {
	Enabled           bool `toml:"enabled"`
	MaxConcurrent     int  `toml:"max_concurrent"`
	JobTimeoutSeconds int  `toml:"job_timeout_seconds"`
	IdleIntervalSec   int  `toml:"idle_interval_seconds"`
}

// SubagentConfig bounds background task execution.
type SubagentConfig struct {
	Enabled         bool     `toml:"enabled"`
	MaxIterations   int      `toml:"max_iterations"`
	RestrictedTools []string `toml:"restricted_tools"`
	CleanupHours    int      `toml:"cleanup_hours"`
}

// ToolsConfig holds per-tool settings.
type ToolsConfig struct {
	Fetch FetchToolConfig `toml:"fetch"`
}

// FetchToolConfig controls the web fetch tool.
type FetchToolConfig struct {
	Enabled         bool   `toml:"enabled"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxResponseSize int64  `toml:"max_response_size"`
	UserAgent       string `toml:"user_agent"`
}

// ChannelsConfig holds delivery channel settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig controls the Telegram delivery channel.
type TelegramConfig struct {
	Enabled            bool   `toml:"enabled"`
	Token              string `toml:"token"`
	SendTimeoutSeconds int    `toml:"send_timeout_seconds"`
}

// StorageConfig locates persistent databases.
type StorageConfig struct {
	JobsPath string `toml:"jobs_path"`
}

// JobsDB returns the job database path, workspace-relative by default.
func (c *Config) JobsDB() string {
	if c.Storage.JobsPath != "" {
		return c.Storage.JobsPath
	}
	return filepath.Join(c.Workspace.Path, "jobs.db")
}
