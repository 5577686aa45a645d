package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses the TOML configuration at path, applies
// defaults, and expands environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Workspace.Path == "" {
		errs = append(errs, fmt.Errorf("workspace.path is required"))
	} else if err := validatePath(c.Workspace.Path, "workspace.path"); err != nil {
		errs = append(errs, err)
	}

	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.api_key is required"))
	} else if len(c.LLM.APIKey) < 10 {
		errs = append(errs, fmt.Errorf("llm.api_key is too short (minimum 10 characters, got %d)", len(c.LLM.APIKey)))
	}

	if c.Agent.Model == "" {
		errs = append(errs, fmt.Errorf("agent.model is required"))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be >= 1"))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature must be between 0 and 2"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errs = append(errs, fmt.Errorf("logging.output is required"))
	}

	if c.Scheduler.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrent must be >= 1"))
	}
	if c.Scheduler.JobTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("scheduler.job_timeout_seconds must be >= 1"))
	}

	if c.Channels.Telegram.Enabled {
		if c.Channels.Telegram.Token == "" {
			errs = append(errs, fmt.Errorf("channels.telegram.token is required when telegram is enabled"))
		} else if err := validateTelegramToken(c.Channels.Telegram.Token); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func validateTelegramToken(token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return fmt.Errorf("telegram token has invalid format (expected <bot_id>:<token>, got: %s)", maskSecret(token))
	}

	botID := parts[0]
	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d)", len(botID))
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}

	if secret := parts[1]; len(secret) < 10 || len(secret) > 50 {
		return fmt.Errorf("telegram token has invalid secret length (expected 10-50 characters, got %d)", len(secret))
	}
	return nil
}

func validatePath(path, fieldName string) error {
	if strings.HasPrefix(path, "~") {
		return nil
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains path traversal sequence", fieldName)
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Workspace.Path == "" {
		c.Workspace.Path = "~/.countbot"
	}
	if c.Workspace.Timezone == "" {
		c.Workspace.Timezone = "UTC"
	}

	if c.Agent.Model == "" {
		c.Agent.Model = "glm-4.7-flash"
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 8192
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 25
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.7
	}
	if c.Agent.ToolRetries == 0 {
		c.Agent.ToolRetries = 3
	}
	if c.Agent.ToolRetryDelaySec == 0 {
		c.Agent.ToolRetryDelaySec = 1
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.z.ai/api/coding/paas/v4"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Scheduler.MaxConcurrent == 0 {
		c.Scheduler.MaxConcurrent = 3
	}
	if c.Scheduler.JobTimeoutSeconds == 0 {
		c.Scheduler.JobTimeoutSeconds = 300
	}
	if c.Scheduler.IdleIntervalSec == 0 {
		c.Scheduler.IdleIntervalSec = 60
	}

	if c.Subagent.MaxIterations == 0 {
		c.Subagent.MaxIterations = 10
	}
	if c.Subagent.CleanupHours == 0 {
		c.Subagent.CleanupHours = 24
	}

	if c.Tools.Fetch.TimeoutSeconds == 0 {
		c.Tools.Fetch.TimeoutSeconds = 30
	}
	if c.Tools.Fetch.MaxResponseSize == 0 {
		c.Tools.Fetch.MaxResponseSize = 5 * 1024 * 1024
	}

	if c.Channels.Telegram.SendTimeoutSeconds == 0 {
		c.Channels.Telegram.SendTimeoutSeconds = 30
	}
}

func expandEnvVars(c *Config) {
	c.LLM.APIKey = expandEnv(c.LLM.APIKey)
	c.Channels.Telegram.Token = expandEnv(c.Channels.Telegram.Token)
	c.Workspace.Path = expandHome(expandEnv(c.Workspace.Path))
	c.Storage.JobsPath = expandHome(expandEnv(c.Storage.JobsPath))
}

// expandEnv resolves a ${VAR} or ${VAR:default} reference. Plain values
// pass through untouched.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}
	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		if val := os.Getenv(parts[0]); val != "" {
			return val
		}
		return parts[1]
	}
	return os.Getenv(content)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
