package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Poll loop metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	tickDuration    prometheus.Histogram
	tickDrift       prometheus.Histogram
	dueTotal        prometheus.Counter

	// Execution metrics
	executionsTotal prometheus.Counter
	failuresTotal   prometheus.Counter
	retriesTotal    prometheus.Counter
	recoveriesTotal prometheus.Counter
	outcomesTotal   *prometheus.CounterVec
	overlapSkips    prometheus.Counter
	runDuration     prometheus.Histogram
	tasksInFlight   prometheus.Gauge

	// Schedule table metrics
	crontabEntries     prometheus.Gauge
	rejectedLinesTotal prometheus.Counter

	// Event bus metrics
	emitErrorsTotal prometheus.Counter

	// Resource metrics
	cpuUsage    prometheus.Gauge
	memoryUsage prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPollMetrics(reg)
	s.initExecutionMetrics(reg)
	s.initTableMetrics(reg)
	s.initResourceMetrics(reg)
	return s
}

func (s *PrometheusSink) initPollMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_scheduler_ticks_total",
		Help: "Total number of poll ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_scheduler_tick_errors_total",
		Help: "Total number of poll tick errors.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cron_scheduler_tick_duration_seconds",
		Help:    "Duration of each poll tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cron_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.dueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_scheduler_due_entries_total",
		Help: "Total number of due entries emitted by the poll loop.",
	})

	s.register(reg, s.ticksTotal, "cron_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "cron_scheduler_tick_errors_total")
	s.register(reg, s.tickDuration, "cron_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "cron_scheduler_tick_drift_seconds")
	s.register(reg, s.dueTotal, "cron_scheduler_due_entries_total")
}

func (s *PrometheusSink) initExecutionMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_job_executions_total",
		Help: "Total number of successful job executions.",
	})
	s.failuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_job_failures_total",
		Help: "Total number of failed job attempts (non-zero exit or timeout).",
	})
	s.retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_job_retries_total",
		Help: "Total number of job retries.",
	})
	s.recoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_job_recoveries_total",
		Help: "Total number of recovered jobs (crash and missed-slot catch-ups).",
	})
	s.outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_run_outcomes_total",
		Help: "Total number of resolved attempts per outcome status.",
	}, []string{"status"})
	s.overlapSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_overlap_skips_total",
		Help: "Total number of due slots skipped because the entry was already in flight.",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cron_run_duration_seconds",
		Help:    "Wall-clock duration of task attempts in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
	s.tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cron_tasks_in_flight",
		Help: "Number of task attempts currently executing.",
	})

	s.register(reg, s.executionsTotal, "cron_job_executions_total")
	s.register(reg, s.failuresTotal, "cron_job_failures_total")
	s.register(reg, s.retriesTotal, "cron_job_retries_total")
	s.register(reg, s.recoveriesTotal, "cron_job_recoveries_total")
	s.register(reg, s.outcomesTotal, "cron_run_outcomes_total")
	s.register(reg, s.overlapSkips, "cron_overlap_skips_total")
	s.register(reg, s.runDuration, "cron_run_duration_seconds")
	s.register(reg, s.tasksInFlight, "cron_tasks_in_flight")
}

func (s *PrometheusSink) initTableMetrics(reg prometheus.Registerer) {
	s.crontabEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cron_crontab_entries",
		Help: "Number of entries in the currently loaded schedule table.",
	})
	s.rejectedLinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_crontab_rejected_lines_total",
		Help: "Total number of malformed crontab lines rejected at load.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_eventbus_emit_errors_total",
		Help: "Total number of due events dropped because the bus buffer was full.",
	})

	s.register(reg, s.crontabEntries, "cron_crontab_entries")
	s.register(reg, s.rejectedLinesTotal, "cron_crontab_rejected_lines_total")
	s.register(reg, s.emitErrorsTotal, "cron_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initResourceMetrics(reg prometheus.Registerer) {
	s.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cron_cpu_usage_percent",
		Help: "Current CPU usage percentage.",
	})
	s.memoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cron_memory_usage_percent",
		Help: "Current memory usage percentage.",
	})

	s.register(reg, s.cpuUsage, "cron_cpu_usage_percent")
	s.register(reg, s.memoryUsage, "cron_memory_usage_percent")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Poll loop metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, due int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.dueTotal.Add(float64(due))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Execution metrics implementation

func (s *PrometheusSink) TaskSucceeded() {
	s.executionsTotal.Inc()
	s.outcomesTotal.WithLabelValues("success").Inc()
}

func (s *PrometheusSink) TaskFailed(status string) {
	s.failuresTotal.Inc()
	s.outcomesTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) TaskRetried() {
	s.retriesTotal.Inc()
}

func (s *PrometheusSink) TaskRecovered(reason string) {
	s.recoveriesTotal.Inc()
}

func (s *PrometheusSink) OverlapSkipped() {
	s.overlapSkips.Inc()
}

func (s *PrometheusSink) RunDuration(d time.Duration) {
	s.runDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) TasksInFlightIncr() {
	s.tasksInFlight.Inc()
}

func (s *PrometheusSink) TasksInFlightDecr() {
	s.tasksInFlight.Dec()
}

// Schedule table metrics implementation

func (s *PrometheusSink) TableReloaded(entries, rejected int) {
	s.crontabEntries.Set(float64(entries))
	s.rejectedLinesTotal.Add(float64(rejected))
}

// Event bus metrics implementation

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Resource metrics implementation

func (s *PrometheusSink) CPUUsageUpdate(percent float64) {
	s.cpuUsage.Set(percent)
}

func (s *PrometheusSink) MemoryUsageUpdate(percent float64) {
	s.memoryUsage.Set(percent)
}
