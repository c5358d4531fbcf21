// Package sysmon samples host CPU and memory usage on a fixed interval
// and publishes the readings through the metrics sink, so a cron host
// saturated by its own jobs is visible from the same scrape endpoint.
package sysmon

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultSampleInterval is how often the monitor reads host usage.
const DefaultSampleInterval = 15 * time.Second

// MetricsSink receives the sampled readings.
type MetricsSink interface {
	CPUUsageUpdate(percent float64)
	MemoryUsageUpdate(percent float64)
}

// Config holds monitor configuration.
type Config struct {
	SampleInterval time.Duration
}

// Monitor periodically samples host resource usage.
type Monitor struct {
	config  Config
	metrics MetricsSink
}

// New creates a monitor.
func New(config Config, metrics MetricsSink) *Monitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultSampleInterval
	}
	return &Monitor{config: config, metrics: metrics}
}

// Run blocks until ctx is cancelled, sampling once per interval. A read
// error is logged and the loop keeps going; one bad sample is noise.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	log.Printf("sysmon: started, interval=%s", m.config.SampleInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("sysmon: stopped")
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	// Interval 0 compares against the previous call instead of blocking.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		log.Printf("sysmon: cpu sample: %v", err)
	} else if len(percents) > 0 {
		m.metrics.CPUUsageUpdate(percents[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Printf("sysmon: memory sample: %v", err)
	} else {
		m.metrics.MemoryUsageUpdate(vm.UsedPercent)
	}
}
