// Copyright 2025 Certen Protocol

package client

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects the settings SPEC_FULL.md's §6 "CLI / environment"
// paragraph names: server address, pool limits, heartbeat interval,
// shutdown grace period, and the deployment-check toggle. Loaded from an
// optional YAML file and overridden by VERIKV_* environment variables,
// following the teacher's pkg/config env+default merge pattern.
type Config struct {
	ServerAddress            string        `yaml:"server_address"`
	User                     string        `yaml:"user"`
	Password                 string        `yaml:"password"`
	Db                       string        `yaml:"db"`
	MaxConnectionsPerServer  int           `yaml:"max_connections_per_server"`
	IdleConnectionCheck      time.Duration `yaml:"idle_connection_check_interval"`
	TerminateIdleConnection  time.Duration `yaml:"terminate_idle_connection_timeout"`
	ShutdownGracePeriod      time.Duration `yaml:"shutdown_grace_period"`
	KeepaliveInterval        time.Duration `yaml:"keepalive_interval"`
	CheckDeployment          bool          `yaml:"check_deployment"`
	StateDir                 string        `yaml:"state_dir"`
}

// DefaultConfig returns the baseline values also used by pkg/pool and
// pkg/session when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerServer: 4,
		IdleConnectionCheck:     30 * time.Second,
		TerminateIdleConnection: 2 * time.Minute,
		ShutdownGracePeriod:     10 * time.Second,
		KeepaliveInterval:       60 * time.Second,
		CheckDeployment:         true,
	}
}

// LoadConfig reads path (if non-empty) as YAML, then applies VERIKV_*
// environment overrides on top, matching the LITECLIENT_* pattern in
// accumulate-lite-client-2/liteclient/config.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("client: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("client: parsing config file: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerAddress = getEnv("VERIKV_SERVER_ADDRESS", cfg.ServerAddress)
	cfg.User = getEnv("VERIKV_USER", cfg.User)
	cfg.Password = getEnv("VERIKV_PASSWORD", cfg.Password)
	cfg.Db = getEnv("VERIKV_DB", cfg.Db)
	cfg.StateDir = getEnv("VERIKV_STATE_DIR", cfg.StateDir)
	cfg.MaxConnectionsPerServer = getEnvInt("VERIKV_MAX_CONNECTIONS_PER_SERVER", cfg.MaxConnectionsPerServer)
	cfg.IdleConnectionCheck = getEnvDuration("VERIKV_IDLE_CONNECTION_CHECK_INTERVAL", cfg.IdleConnectionCheck)
	cfg.TerminateIdleConnection = getEnvDuration("VERIKV_TERMINATE_IDLE_CONNECTION_TIMEOUT", cfg.TerminateIdleConnection)
	cfg.ShutdownGracePeriod = getEnvDuration("VERIKV_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.KeepaliveInterval = getEnvDuration("VERIKV_KEEPALIVE_INTERVAL", cfg.KeepaliveInterval)
	cfg.CheckDeployment = getEnvBool("VERIKV_CHECK_DEPLOYMENT", cfg.CheckDeployment)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
