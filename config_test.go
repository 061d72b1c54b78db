package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	setupTestStore(t)

	cfg := LoadConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2.0, cfg.BackoffBase)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.PollInterval)
}

func TestConfigSetGetRoundtrip(t *testing.T) {
	setupTestStore(t)

	require.NoError(t, SetConfig(ConfigMaxRetries, "7"))
	value, err := GetConfig(ConfigMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, "7", value)

	// Overwrite in place.
	require.NoError(t, SetConfig(ConfigMaxRetries, "4"))
	assert.Equal(t, 4, GetConfigInt(ConfigMaxRetries, DefaultMaxRetries))
}

func TestConfigUnknownKey(t *testing.T) {
	setupTestStore(t)

	_, err := GetConfig("no_such_key")
	assert.Error(t, err)
}

func TestConfigCorruptValueFallsBack(t *testing.T) {
	setupTestStore(t)

	require.NoError(t, SetConfig(ConfigMaxRetries, "not-a-number"))
	assert.Equal(t, DefaultMaxRetries, GetConfigInt(ConfigMaxRetries, DefaultMaxRetries))

	require.NoError(t, SetConfig(ConfigBackoffBase, "banana"))
	assert.Equal(t, DefaultBackoffBase, GetConfigFloat(ConfigBackoffBase, DefaultBackoffBase))
}

func TestLoadConfigSnapshot(t *testing.T) {
	setupTestStore(t)

	require.NoError(t, SetConfig(ConfigBackoffBase, "3"))
	require.NoError(t, SetConfig(ConfigPollInterval, "5"))

	cfg := LoadConfig()
	assert.Equal(t, 3.0, cfg.BackoffBase)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)

	// Later writes must not affect an already-taken snapshot.
	require.NoError(t, SetConfig(ConfigBackoffBase, "9"))
	assert.Equal(t, 3.0, cfg.BackoffBase)
}

func TestGetAllConfigMergesDefaults(t *testing.T) {
	setupTestStore(t)

	require.NoError(t, SetConfig(ConfigLogLevel, "debug"))

	cfg, err := GetAllConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg[ConfigLogLevel])
	assert.Equal(t, "3", cfg[ConfigMaxRetries], "unset keys show their defaults")
	assert.Equal(t, "1", cfg[ConfigPollInterval])
}
