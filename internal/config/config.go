package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile  string
	APIAddr string
	// ServerURL is the websocket endpoint a client session dials.
	ServerURL string

	HistorySize      int
	SnapshotMessages int
	OfflineRetention time.Duration

	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BackoffAttempts int

	// PositionInterval is the minimum spacing between outbound position
	// updates a client emits.
	PositionInterval time.Duration

	PushSubscriber  string
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	Dev bool
}

func Load() (*Config, error) {
	cfg := &Config{
		DBFile:          getEnv("SFERA_DB", "sfera.db"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		ServerURL:       getEnv("SERVER_URL", "ws://localhost:8080/ws"),
		PushSubscriber:  getEnv("PUSH_SUBSCRIBER", "mailto:admin@localhost"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		Dev:             os.Getenv("DEV") != "",
	}

	var err error
	if cfg.OfflineRetention, err = time.ParseDuration(getEnv("OFFLINE_RETENTION", "24h")); err != nil {
		return nil, fmt.Errorf("OFFLINE_RETENTION: %w", err)
	}
	if cfg.BackoffBase, err = time.ParseDuration(getEnv("BACKOFF_BASE", "1s")); err != nil {
		return nil, fmt.Errorf("BACKOFF_BASE: %w", err)
	}
	if cfg.BackoffMax, err = time.ParseDuration(getEnv("BACKOFF_MAX", "30s")); err != nil {
		return nil, fmt.Errorf("BACKOFF_MAX: %w", err)
	}
	if cfg.PositionInterval, err = time.ParseDuration(getEnv("POSITION_INTERVAL", "100ms")); err != nil {
		return nil, fmt.Errorf("POSITION_INTERVAL: %w", err)
	}
	if cfg.BackoffAttempts, err = getEnvInt("BACKOFF_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.HistorySize, err = getEnvInt("HISTORY_SIZE", 200); err != nil {
		return nil, err
	}
	if cfg.SnapshotMessages, err = getEnvInt("SNAPSHOT_MESSAGES", 50); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff window %v..%v is invalid", c.BackoffBase, c.BackoffMax)
	}
	if c.BackoffAttempts <= 0 {
		return fmt.Errorf("BACKOFF_ATTEMPTS must be greater than 0")
	}
	if c.HistorySize <= 0 || c.SnapshotMessages <= 0 {
		return fmt.Errorf("history sizes must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
