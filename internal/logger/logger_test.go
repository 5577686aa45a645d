package logger

import (
	"testing"
)

func TestNew_ValidConfig(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{name: "debug json", level: "debug", format: "json"},
		{name: "info text", level: "info", format: "text"},
		{name: "warn json", level: "warn", format: "json"},
		{name: "error text", level: "error", format: "text"},
		{name: "mixed case level", level: "INFO", format: "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(Config{Level: tt.level, Format: tt.format, Output: "stdout"})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if log == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose", Format: "json", Output: "stdout"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "xml", Output: "stdout"})
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	// Must not panic.
	log.Info("quiet", Field{Key: "k", Value: "v"})
	log.Error("quiet", nil)
}

func TestWith(t *testing.T) {
	log := NewNop()
	child := log.With(Field{Key: "component", Value: "scheduler"})
	if child == nil {
		t.Fatal("With() returned nil")
	}
	child.Debug("message")
}
