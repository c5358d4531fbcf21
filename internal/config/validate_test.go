package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		CrontabPath:     "/etc/crontab",
		StateDriver:     "sqlite",
		StatePath:       "/var/lib/kubercron/state.db",
		TickIntervalStr: "60s",
		TaskTimeoutStr:  "1h",
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestValidate_MissingCrontabPath(t *testing.T) {
	cfg := validConfig()
	cfg.CrontabPath = ""

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "CRONTAB_PATH") {
		t.Errorf("Validate = %v, want CRONTAB_PATH error", err)
	}
}

func TestValidate_SqliteNeedsStatePath(t *testing.T) {
	cfg := validConfig()
	cfg.StatePath = ""

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "STATE_PATH") {
		t.Errorf("Validate = %v, want STATE_PATH error", err)
	}
}

func TestValidate_PostgresNeedsDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.StateDriver = "postgres"
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Validate = %v, want DATABASE_URL error", err)
	}

	cfg.DatabaseURL = "postgres://cron@db/cron"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate = %v, want nil with DATABASE_URL set", err)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.StateDriver = "dynamodb"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "STATE_DRIVER") {
		t.Errorf("Validate = %v, want STATE_DRIVER error", err)
	}
}

func TestValidate_BadDurations(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"TICK_INTERVAL", func(c *Config) { c.TickIntervalStr = "sixty" }},
		{"TICK_INTERVAL", func(c *Config) { c.TickIntervalStr = "-1m" }},
		{"TASK_TIMEOUT", func(c *Config) { c.TaskTimeoutStr = "0s" }},
		{"SHUTDOWN_GRACE", func(c *Config) { c.ShutdownGraceStr = "later" }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)

		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.field) {
			t.Errorf("Validate = %v, want %s error", err, tc.field)
		}
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.CrontabPath = ""
	cfg.TickIntervalStr = "bogus"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("errors = %d, want 2", len(verrs))
	}
	if !strings.Contains(err.Error(), "2 validation errors") {
		t.Errorf("message = %q, want count header", err.Error())
	}
}
