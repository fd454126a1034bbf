package util

import (
	"log/slog"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"empty uses default", "", true, true},
		{"true", "true", false, true},
		{"numeric true", "1", false, true},
		{"yes", "YES", false, true},
		{"on", "on", false, true},
		{"false", "false", true, false},
		{"numeric false", "0", true, false},
		{"off with spaces", "  off  ", true, false},
		{"garbage uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TELEHOLE_TEST_BOOL", tt.value)
			if got := ParseBoolEnv("TELEHOLE_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevelEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  slog.Level
	}{
		{"empty uses default", "", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"warn", "WARN", slog.LevelWarn},
		{"warning alias", "warning", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"garbage uses default", "loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TELEHOLE_TEST_LEVEL", tt.value)
			if got := ParseLevelEnv("TELEHOLE_TEST_LEVEL", slog.LevelInfo); got != tt.want {
				t.Errorf("ParseLevelEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}
