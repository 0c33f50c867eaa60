package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PLUMBOPS_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("PLUMBOPS_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("PLUMBOPS_TEST_UNSET_VALUE", "fallback"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvHistoryDSN, "/tmp/history.db")
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultParallelism, s.Parallelism)
	assert.Equal(t, DefaultTaskTimeout, s.TaskTimeout)
	assert.Equal(t, DefaultConnectAttempts, s.ConnectAttempts)
	assert.Equal(t, DefaultUser, s.DefaultUser)
	assert.True(t, s.HostKeyChecking)
	assert.Equal(t, "/tmp/history.db", s.HistoryDSN)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv(EnvParallelism, "12")
	t.Setenv(EnvTaskTimeout, "30s")
	t.Setenv(EnvHostKeyChecking, "false")
	t.Setenv(EnvDefaultUser, "deploy")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, s.Parallelism)
	assert.Equal(t, 30*time.Second, s.TaskTimeout)
	assert.False(t, s.HostKeyChecking)
	assert.Equal(t, "deploy", s.DefaultUser)
}

func TestLoad_InvalidValuesAreAggregated(t *testing.T) {
	t.Setenv(EnvParallelism, "many")
	t.Setenv(EnvTaskTimeout, "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvParallelism)
	assert.Contains(t, err.Error(), EnvTaskTimeout)
}

func TestValidate(t *testing.T) {
	s := &Settings{
		Parallelism:     0,
		ConnectAttempts: 3,
		TaskTimeout:     time.Minute,
		ConnectTimeout:  time.Second,
		BackoffInitial:  2 * time.Second,
		BackoffMax:      time.Second,
		DefaultUser:     "root",
	}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallelism")
	assert.Contains(t, err.Error(), "backoff")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PLUMBOPS_DOTENV_LOADED=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PLUMBOPS_DOTENV_LOADED") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("PLUMBOPS_DOTENV_LOADED"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
