package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the kubercron daemon.
// Values are loaded from environment variables; see printUsage() for the
// full list.
type Config struct {
	CrontabPath string `json:"crontab_path"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	// StateDriver: "sqlite" (embedded, default) or "postgres" (DATABASE_URL).
	StateDriver string `json:"state_driver"`
	StatePath   string `json:"state_path"`
	DatabaseURL string `json:"database_url,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`
	DBMaxOpenConns int           `json:"db_max_open_conns"`

	RedisAddr string `json:"redis_addr,omitempty"`

	LogDir string `json:"log_dir"`

	TaskTimeout    time.Duration `json:"-"`
	TaskTimeoutStr string        `json:"task_timeout"`
	MaxRetries     int           `json:"max_retries"`

	RetryBackoffBase    time.Duration `json:"-"`
	RetryBackoffBaseStr string        `json:"retry_backoff_base"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPort    int    `json:"metrics_port"`
	MetricsPath    string `json:"metrics_path"`

	ShutdownGrace    time.Duration `json:"-"`
	ShutdownGraceStr string        `json:"shutdown_grace"`

	WatchEnabled bool `json:"watch_enabled"`

	ResourceSampleInterval    time.Duration `json:"-"`
	ResourceSampleIntervalStr string        `json:"resource_sample_interval"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		CrontabPath:               os.Getenv("CRONTAB_PATH"),
		TickIntervalStr:           os.Getenv("TICK_INTERVAL"),
		StateDriver:               os.Getenv("STATE_DRIVER"),
		StatePath:                 os.Getenv("STATE_PATH"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		LogDir:                    os.Getenv("LOG_DIR"),
		TaskTimeoutStr:            os.Getenv("TASK_TIMEOUT"),
		RetryBackoffBaseStr:       os.Getenv("RETRY_BACKOFF_BASE"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") != "false",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		ShutdownGraceStr:          os.Getenv("SHUTDOWN_GRACE"),
		WatchEnabled:              os.Getenv("WATCH_ENABLED") == "true",
		ResourceSampleIntervalStr: os.Getenv("RESOURCE_SAMPLE_INTERVAL"),
	}

	cfg.MaxRetries = 2
	if retriesStr := os.Getenv("MAX_RETRIES"); retriesStr != "" {
		if n, err := parseInt(retriesStr); err == nil {
			cfg.MaxRetries = n
		} else {
			log.Printf("config: invalid MAX_RETRIES %q (must be a non-negative integer), using default 2", retriesStr)
		}
	}

	if portStr := os.Getenv("METRICS_PORT"); portStr != "" {
		if n, err := parseInt(portStr); err == nil && n > 0 && n < 65536 {
			cfg.MetricsPort = n
		} else {
			log.Printf("config: invalid METRICS_PORT %q, using default 9090", portStr)
		}
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 10
	}

	if cfg.CrontabPath == "" {
		cfg.CrontabPath = "/etc/crontab"
	}
	if cfg.StateDriver == "" {
		cfg.StateDriver = "sqlite"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/lib/kubercron/state.db"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "/var/log/kubercron"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "60s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.TaskTimeoutStr == "" {
		cfg.TaskTimeoutStr = "1h"
	}
	if cfg.RetryBackoffBaseStr == "" {
		cfg.RetryBackoffBaseStr = "2s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownGraceStr == "" {
		cfg.ShutdownGraceStr = "30s"
	}
	if cfg.ResourceSampleIntervalStr == "" {
		cfg.ResourceSampleIntervalStr = "15s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TaskTimeoutStr); err == nil {
		cfg.TaskTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RetryBackoffBaseStr); err == nil {
		cfg.RetryBackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.ShutdownGraceStr); err == nil {
		cfg.ShutdownGrace = d
	}
	if d, err := time.ParseDuration(cfg.ResourceSampleIntervalStr); err == nil {
		cfg.ResourceSampleInterval = d
	}

	return cfg
}

// BackoffSchedule derives the per-slot retry delays from the configured
// base: base, 5x, 15x. The burst must stay well inside one tick interval.
func (c Config) BackoffSchedule() []time.Duration {
	base := c.RetryBackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	return []time.Duration{base, 5 * base, 15 * base}
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		CrontabPath            string `json:"crontab_path"`
		TickInterval           string `json:"tick_interval"`
		StateDriver            string `json:"state_driver"`
		StatePath              string `json:"state_path"`
		DatabaseURL            string `json:"database_url,omitempty"`
		DBOpTimeout            string `json:"db_op_timeout"`
		DBMaxOpenConns         int    `json:"db_max_open_conns"`
		RedisAddr              string `json:"redis_addr,omitempty"`
		LogDir                 string `json:"log_dir"`
		TaskTimeout            string `json:"task_timeout"`
		MaxRetries             int    `json:"max_retries"`
		RetryBackoffBase       string `json:"retry_backoff_base"`
		MetricsEnabled         bool   `json:"metrics_enabled"`
		MetricsPort            int    `json:"metrics_port"`
		MetricsPath            string `json:"metrics_path"`
		ShutdownGrace          string `json:"shutdown_grace"`
		WatchEnabled           bool   `json:"watch_enabled"`
		ResourceSampleInterval string `json:"resource_sample_interval"`
		EventBusBufferSize     int    `json:"eventbus_buffer_size"`
	}{
		CrontabPath:            c.CrontabPath,
		TickInterval:           c.TickIntervalStr,
		StateDriver:            c.StateDriver,
		StatePath:              c.StatePath,
		DatabaseURL:            maskSecret(c.DatabaseURL),
		DBOpTimeout:            c.DBOpTimeoutStr,
		DBMaxOpenConns:         c.DBMaxOpenConns,
		RedisAddr:              c.RedisAddr,
		LogDir:                 c.LogDir,
		TaskTimeout:            c.TaskTimeoutStr,
		MaxRetries:             c.MaxRetries,
		RetryBackoffBase:       c.RetryBackoffBaseStr,
		MetricsEnabled:         c.MetricsEnabled,
		MetricsPort:            c.MetricsPort,
		MetricsPath:            c.MetricsPath,
		ShutdownGrace:          c.ShutdownGraceStr,
		WatchEnabled:           c.WatchEnabled,
		ResourceSampleInterval: c.ResourceSampleIntervalStr,
		EventBusBufferSize:     c.EventBusBufferSize,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
