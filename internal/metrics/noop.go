package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                             {}
func (n *NoopSink) TickCompleted(duration time.Duration, due int, err error) {}
func (n *NoopSink) TickDrift(drift time.Duration)                            {}
func (n *NoopSink) TaskSucceeded()                                           {}
func (n *NoopSink) TaskFailed(status string)                                 {}
func (n *NoopSink) TaskRetried()                                             {}
func (n *NoopSink) TaskRecovered(reason string)                              {}
func (n *NoopSink) OverlapSkipped()                                          {}
func (n *NoopSink) RunDuration(d time.Duration)                              {}
func (n *NoopSink) TasksInFlightIncr()                                       {}
func (n *NoopSink) TasksInFlightDecr()                                       {}
func (n *NoopSink) TableReloaded(entries, rejected int)                      {}
func (n *NoopSink) EmitError()                                               {}
func (n *NoopSink) CPUUsageUpdate(percent float64)                           {}
func (n *NoopSink) MemoryUsageUpdate(percent float64)                        {}

var _ Sink = (*NoopSink)(nil)
