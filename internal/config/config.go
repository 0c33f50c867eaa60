// Package config loads process settings from the environment once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Environment variable names
const (
	EnvParallelism      = "PLUMBOPS_PARALLELISM"
	EnvTaskTimeout      = "PLUMBOPS_TASK_TIMEOUT"
	EnvConnectTimeout   = "PLUMBOPS_CONNECT_TIMEOUT"
	EnvConnectAttempts  = "PLUMBOPS_CONNECT_ATTEMPTS"
	EnvBackoffInitial   = "PLUMBOPS_BACKOFF_INITIAL"
	EnvBackoffMax       = "PLUMBOPS_BACKOFF_MAX"
	EnvDefaultUser      = "PLUMBOPS_DEFAULT_USER"
	EnvKnownHosts       = "PLUMBOPS_KNOWN_HOSTS"
	EnvHostKeyChecking  = "PLUMBOPS_HOST_KEY_CHECKING"
	EnvSSHConfig        = "PLUMBOPS_SSH_CONFIG"
	EnvHistoryDSN       = "PLUMBOPS_HISTORY_DSN"
	EnvLogLevel         = "PLUMBOPS_LOG_LEVEL"
	EnvLogFormat        = "PLUMBOPS_LOG_FORMAT"
	defaultHistoryFile  = "history.db"
	defaultStateDirName = ".plumbops"
)

// Defaults
const (
	DefaultParallelism     = 5
	DefaultTaskTimeout     = 5 * time.Minute
	DefaultConnectTimeout  = 10 * time.Second
	DefaultConnectAttempts = 3
	DefaultBackoffInitial  = time.Second
	DefaultBackoffMax      = 10 * time.Second
	DefaultUser            = "root"
)

// Settings is the validated process configuration.
type Settings struct {
	Parallelism     int
	TaskTimeout     time.Duration
	ConnectTimeout  time.Duration
	ConnectAttempts int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	DefaultUser     string
	KnownHostsFile  string
	HostKeyChecking bool
	SSHConfigFile   string
	HistoryDSN      string
	LogLevel        string
	LogFormat       string
}

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// LoadDotEnv reads .env files into the environment. A missing file is fine.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load builds Settings from the environment and validates them.
func Load() (*Settings, error) {
	var errs *multierror.Error

	s := &Settings{
		DefaultUser:     GetEnv(EnvDefaultUser, DefaultUser),
		KnownHostsFile:  os.ExpandEnv(GetEnv(EnvKnownHosts, "$HOME/.ssh/known_hosts")),
		SSHConfigFile:   os.ExpandEnv(GetEnv(EnvSSHConfig, "")),
		HistoryDSN:      os.ExpandEnv(GetEnv(EnvHistoryDSN, defaultHistoryDSN())),
		LogLevel:        GetEnv(EnvLogLevel, "info"),
		LogFormat:       GetEnv(EnvLogFormat, "text"),
		HostKeyChecking: true,
	}

	var err error
	if s.Parallelism, err = intEnv(EnvParallelism, DefaultParallelism); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.ConnectAttempts, err = intEnv(EnvConnectAttempts, DefaultConnectAttempts); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.TaskTimeout, err = durationEnv(EnvTaskTimeout, DefaultTaskTimeout); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.ConnectTimeout, err = durationEnv(EnvConnectTimeout, DefaultConnectTimeout); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.BackoffInitial, err = durationEnv(EnvBackoffInitial, DefaultBackoffInitial); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.BackoffMax, err = durationEnv(EnvBackoffMax, DefaultBackoffMax); err != nil {
		errs = multierror.Append(errs, err)
	}
	if v, ok := os.LookupEnv(EnvHostKeyChecking); ok {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvHostKeyChecking, perr))
		}
		s.HostKeyChecking = b
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	var errs *multierror.Error
	if s.Parallelism < 1 {
		errs = multierror.Append(errs, fmt.Errorf("parallelism must be at least 1, got %d", s.Parallelism))
	}
	if s.ConnectAttempts < 1 {
		errs = multierror.Append(errs, fmt.Errorf("connect attempts must be at least 1, got %d", s.ConnectAttempts))
	}
	if s.TaskTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("task timeout must be positive"))
	}
	if s.ConnectTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("connect timeout must be positive"))
	}
	if s.BackoffInitial <= 0 || s.BackoffMax < s.BackoffInitial {
		errs = multierror.Append(errs, fmt.Errorf("backoff must satisfy 0 < initial (%s) <= max (%s)", s.BackoffInitial, s.BackoffMax))
	}
	if s.DefaultUser == "" {
		errs = multierror.Append(errs, fmt.Errorf("default user cannot be empty"))
	}
	return errs.ErrorOrNil()
}

func defaultHistoryDSN() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(defaultStateDirName, defaultHistoryFile)
	}
	return filepath.Join(home, defaultStateDirName, defaultHistoryFile)
}

func intEnv(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
