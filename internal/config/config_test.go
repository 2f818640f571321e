package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerURL != "ws://localhost:8080/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffMax != 30*time.Second || cfg.BackoffAttempts != 5 {
		t.Errorf("backoff defaults = %v..%v x%d", cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffAttempts)
	}
	if cfg.PositionInterval != 100*time.Millisecond {
		t.Errorf("PositionInterval = %v", cfg.PositionInterval)
	}
	if cfg.OfflineRetention != 24*time.Hour {
		t.Errorf("OfflineRetention = %v", cfg.OfflineRetention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_URL", "wss://relay.example.com/ws")
	t.Setenv("BACKOFF_BASE", "500ms")
	t.Setenv("BACKOFF_MAX", "10s")
	t.Setenv("BACKOFF_ATTEMPTS", "3")
	t.Setenv("POSITION_INTERVAL", "50ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerURL != "wss://relay.example.com/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.BackoffBase != 500*time.Millisecond || cfg.BackoffMax != 10*time.Second || cfg.BackoffAttempts != 3 {
		t.Errorf("backoff = %v..%v x%d", cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffAttempts)
	}
	if cfg.PositionInterval != 50*time.Millisecond {
		t.Errorf("PositionInterval = %v", cfg.PositionInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Backoff window inverted", "BACKOFF_MAX", "100ms"},
		{"Backoff attempts zero", "BACKOFF_ATTEMPTS", "0"},
		{"Backoff attempts not a number", "BACKOFF_ATTEMPTS", "many"},
		{"Retention not a duration", "OFFLINE_RETENTION", "tomorrow"},
		{"History size zero", "HISTORY_SIZE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}
