package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Configuration keys persisted in the config table.
const (
	ConfigMaxRetries   = "max_retries"
	ConfigBackoffBase  = "backoff_base"
	ConfigLogLevel     = "log_level"
	ConfigPollInterval = "worker_poll_interval"
)

const (
	DefaultMaxRetries   = 3
	DefaultBackoffBase  = 2.0
	DefaultLogLevel     = "info"
	DefaultPollInterval = 1 // seconds
)

var defaultConfig = map[string]string{
	ConfigMaxRetries:   "3",
	ConfigBackoffBase:  "2",
	ConfigLogLevel:     DefaultLogLevel,
	ConfigPollInterval: "1",
}

// Config is an immutable snapshot taken once per worker-pool launch.
type Config struct {
	MaxRetries   int
	BackoffBase  float64
	LogLevel     string
	PollInterval time.Duration
}

// LoadConfig resolves the current configuration, falling back to defaults
// for any key that is missing or unparseable.
func LoadConfig() *Config {
	return &Config{
		MaxRetries:   GetConfigInt(ConfigMaxRetries, DefaultMaxRetries),
		BackoffBase:  GetConfigFloat(ConfigBackoffBase, DefaultBackoffBase),
		LogLevel:     GetConfigString(ConfigLogLevel, DefaultLogLevel),
		PollInterval: time.Duration(GetConfigInt(ConfigPollInterval, DefaultPollInterval)) * time.Second,
	}
}

func GetConfig(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if def, ok := defaultConfig[key]; ok {
			return def, nil
		}
		return "", fmt.Errorf("config key not found: %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

func SetConfig(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

// GetAllConfig returns the stored configuration merged over the defaults.
func GetAllConfig() (map[string]string, error) {
	cfg := make(map[string]string, len(defaultConfig))
	for k, v := range defaultConfig {
		cfg[k] = v
	}

	rows, err := db.Query("SELECT key, value FROM config ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		cfg[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config: %w", err)
	}
	return cfg, nil
}

func GetConfigString(key, def string) string {
	value, err := GetConfig(key)
	if err != nil || value == "" {
		return def
	}
	return value
}

func GetConfigInt(key string, def int) int {
	value, err := GetConfig(key)
	if err != nil {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func GetConfigFloat(key string, def float64) float64 {
	value, err := GetConfig(key)
	if err != nil {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
