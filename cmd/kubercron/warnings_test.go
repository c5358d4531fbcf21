package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/apoplexi24/kuber-cron/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func TestLogConfigWarnings_Clean(t *testing.T) {
	cfg := &config.Config{
		MetricsEnabled: true,
		TickInterval:   time.Minute,
		WatchEnabled:   true,
		MaxRetries:     2,
	}
	output := captureLogOutput(cfg)

	if strings.Contains(output, "WARNING") {
		t.Error("did not expect any warnings, got:", output)
	}
	if strings.Contains(output, "INFO") {
		t.Error("did not expect any INFO messages, got:", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := &config.Config{
		MetricsEnabled: false,
		TickInterval:   time.Minute,
		WatchEnabled:   true,
		MaxRetries:     2,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("expected metrics P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_CoarseTick(t *testing.T) {
	cfg := &config.Config{
		MetricsEnabled:  true,
		TickInterval:    5 * time.Minute,
		TickIntervalStr: "5m",
		WatchEnabled:    true,
		MaxRetries:      2,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: TICK_INTERVAL=5m") {
		t.Error("expected coarse tick P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_MinuteTickNoWarning(t *testing.T) {
	cfg := &config.Config{
		MetricsEnabled: true,
		TickInterval:   time.Minute,
		WatchEnabled:   true,
		MaxRetries:     2,
	}
	output := captureLogOutput(cfg)

	if strings.Contains(output, "TICK_INTERVAL") {
		t.Error("did not expect tick warning at exactly one minute, got:", output)
	}
}

func TestLogConfigWarnings_WatchDisabled(t *testing.T) {
	cfg := &config.Config{
		MetricsEnabled: true,
		TickInterval:   time.Minute,
		WatchEnabled:   false,
		MaxRetries:     2,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: WATCH_ENABLED=false") {
		t.Error("expected watch disabled INFO, got:", output)
	}
}

func TestLogConfigWarnings_NoRetries(t *testing.T) {
	cfg := &config.Config{
		MetricsEnabled: true,
		TickInterval:   time.Minute,
		WatchEnabled:   true,
		MaxRetries:     0,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: MAX_RETRIES=0") {
		t.Error("expected no-retries INFO, got:", output)
	}
}

func TestLogConfigWarnings_AllWarnings(t *testing.T) {
	// Worst case: no metrics, coarse tick, no watch, no retries
	cfg := &config.Config{
		MetricsEnabled:  false,
		TickInterval:    2 * time.Minute,
		TickIntervalStr: "2m",
		WatchEnabled:    false,
		MaxRetries:      0,
	}
	output := captureLogOutput(cfg)

	expected := []string{
		"WARNING [P1]: METRICS_ENABLED=false",
		"WARNING [P1]: TICK_INTERVAL=2m",
		"INFO: WATCH_ENABLED=false",
		"INFO: MAX_RETRIES=0",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
