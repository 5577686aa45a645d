package main

import (
	"testing"
)

func TestRunCmdFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantConfig  string
		wantSession string
	}{
		{
			name:       "config flag",
			args:       []string{"--config", "test.toml"},
			wantConfig: "test.toml",
		},
		{
			name:       "short config flag",
			args:       []string{"-c", "test.toml"},
			wantConfig: "test.toml",
		},
		{
			name:        "session flag",
			args:        []string{"--session", "abc"},
			wantConfig:  defaultConfigPath,
			wantSession: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runConfigPath = defaultConfigPath
			runSessionID = ""

			_ = runCmd.ParseFlags(tt.args)

			if runConfigPath != tt.wantConfig {
				t.Errorf("runConfigPath = %v, want %v", runConfigPath, tt.wantConfig)
			}
			if runSessionID != tt.wantSession {
				t.Errorf("runSessionID = %v, want %v", runSessionID, tt.wantSession)
			}
		})
	}
}

func TestCommandStructure(t *testing.T) {
	want := map[string]bool{
		"version": false,
		"config":  false,
		"serve":   false,
		"run":     false,
		"cron":    false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestCronSubcommands(t *testing.T) {
	want := map[string]bool{
		"list":    false,
		"add":     false,
		"remove":  false,
		"enable":  false,
		"disable": false,
		"run":     false,
	}
	for _, cmd := range cronCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("cron subcommand %q not registered", name)
		}
	}
}

func TestConfigSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range configCmd.Commands() {
		names[cmd.Name()] = true
	}
	if !names["validate"] || !names["show"] {
		t.Errorf("config subcommands = %v, want validate and show", names)
	}
}
