package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/apoplexi24/kuber-cron/internal/analytics"
	"github.com/apoplexi24/kuber-cron/internal/config"
	"github.com/apoplexi24/kuber-cron/internal/controller"
	"github.com/apoplexi24/kuber-cron/internal/crontab"
	"github.com/apoplexi24/kuber-cron/internal/logsink"
	"github.com/apoplexi24/kuber-cron/internal/metrics"
	"github.com/apoplexi24/kuber-cron/internal/poller"
	"github.com/apoplexi24/kuber-cron/internal/recovery"
	"github.com/apoplexi24/kuber-cron/internal/runner"
	"github.com/apoplexi24/kuber-cron/internal/store/postgres"
	"github.com/apoplexi24/kuber-cron/internal/store/sqlite"
	"github.com/apoplexi24/kuber-cron/internal/sysmon"
	"github.com/apoplexi24/kuber-cron/internal/transport/channel"
)

// stateStore is the full surface the daemon needs from either driver.
type stateStore interface {
	controller.Store
	recovery.Store
	Ping(ctx context.Context) error
	Close() error
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

const sqliteBusyTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`kubercron - crontab execution daemon with durable state and recovery

Usage:
  kubercron <command>

Commands:
  serve      Start the daemon
  validate   Validate configuration and the crontab (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  CRONTAB_PATH              Crontab file to load (default: "/etc/crontab")
  TICK_INTERVAL             Poll loop interval (default: "60s")
  WATCH_ENABLED             Reload the crontab on file change (default: "false")

  STATE_DRIVER              State store driver: "sqlite" or "postgres" (default: "sqlite")
  STATE_PATH                SQLite database path (default: "/var/lib/kubercron/state.db")
  DATABASE_URL              PostgreSQL connection string (required for "postgres")
  DB_OP_TIMEOUT             State store operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open connections, postgres only (default: "10")

  LOG_DIR                   Per-entry task output directory (default: "/var/log/kubercron")
  TASK_TIMEOUT              Default per-task timeout (default: "1h")
  MAX_RETRIES               Default retries per due slot (default: "2")
  RETRY_BACKOFF_BASE        Base delay between retries (default: "2s")
  SHUTDOWN_GRACE            Grace period for in-flight tasks on shutdown (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "true")
  METRICS_PORT              Metrics server port (default: "9090")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  RESOURCE_SAMPLE_INTERVAL  Host CPU/memory sample interval (default: "15s")

  REDIS_ADDR                Redis address for outcome analytics (optional)
  EVENTBUS_BUFFER_SIZE      Due event buffer capacity (default: "100")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(&cfg)

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open state store: %v\n", err)
		return exitRuntimeError
	}
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "state store unreachable: %v\n", err)
		return exitRuntimeError
	}
	log.Printf("kubercron: state store ready (driver=%s)", cfg.StateDriver)

	// Load the schedule table. A missing crontab is fatal; malformed
	// lines inside it are not.
	parser := crontab.NewParser(crontab.Defaults{
		Timeout:    cfg.TaskTimeout,
		MaxRetries: cfg.MaxRetries,
	})
	table, lineErrs, err := parser.ParseFile(cfg.CrontabPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load crontab: %v\n", err)
		return exitRuntimeError
	}
	for _, le := range lineErrs {
		log.Printf("crontab: %v", le)
	}
	holder := crontab.NewHolder(table)
	log.Printf("kubercron: loaded %s (entries=%d, rejected=%d)", cfg.CrontabPath, table.Len(), len(lineErrs))

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsSink.TableReloaded(table.Len(), len(lineErrs))

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), cfg.DBOpTimeout)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				http.Error(w, "state store unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Printf("kubercron: metrics server listening on :%d", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("kubercron: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("kubercron: METRICS_ENABLED=false; metrics disabled")
	}

	bus := channel.NewEventBus(cfg.EventBusBufferSize)
	if metricsSink != nil {
		bus = bus.WithMetrics(metricsSink)
	}

	sink, err := logsink.NewDirSink(cfg.LogDir)
	var taskSink logsink.Sink = sink
	if err != nil {
		// Task output is operator convenience; losing it is not worth
		// refusing to run.
		log.Printf("kubercron: cannot use LOG_DIR %s, task output discarded: %v", cfg.LogDir, err)
		taskSink = logsink.Discard{}
	}

	ctrl := controller.New(store, runner.New(taskSink), holder).
		WithBackoff(cfg.BackoffSchedule()).
		WithDrainGrace(cfg.ShutdownGrace)
	if metricsSink != nil {
		ctrl = ctrl.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		ctrl = ctrl.WithAnalytics(analytics.NewRedisSink(redisClient, analytics.DefaultConfig()))
		log.Printf("kubercron: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("kubercron: REDIS_ADDR not set; analytics disabled")
	}

	// The controller consumes before recovery emits so catch-up events
	// cannot overflow the bus.
	controllerCtx, cancelController := context.WithCancel(context.Background())
	var controllerWg sync.WaitGroup
	controllerWg.Add(1)
	go func() {
		defer controllerWg.Done()
		ctrl.Run(controllerCtx, bus.Channel())
	}()

	// Startup reconciliation must finish before the first poll tick.
	coord := recovery.New(recovery.Config{PollInterval: cfg.TickInterval}, store, holder, bus)
	if metricsSink != nil {
		coord = coord.WithMetrics(metricsSink)
	}
	if err := coord.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "recovery failed: %v\n", err)
		cancelController()
		controllerWg.Wait()
		return exitRuntimeError
	}

	pol := poller.New(poller.Config{TickInterval: cfg.TickInterval}, holder, bus)
	if metricsSink != nil {
		pol = pol.WithMetrics(metricsSink)
	}

	pollerCtx, cancelPoller := context.WithCancel(context.Background())
	auxCtx, cancelAux := context.WithCancel(context.Background())

	var pollerWg sync.WaitGroup
	var auxWg sync.WaitGroup

	pollerWg.Add(1)
	go func() {
		defer pollerWg.Done()
		pol.Run(pollerCtx)
	}()

	if cfg.WatchEnabled {
		watcher := crontab.NewWatcher(cfg.CrontabPath, parser, holder)
		if metricsSink != nil {
			watcher = watcher.WithMetrics(metricsSink)
		}
		auxWg.Add(1)
		go func() {
			defer auxWg.Done()
			if err := watcher.Run(auxCtx); err != nil {
				log.Printf("kubercron: crontab watcher error: %v", err)
			}
		}()
	}

	if metricsSink != nil {
		mon := sysmon.New(sysmon.Config{SampleInterval: cfg.ResourceSampleInterval}, metricsSink)
		auxWg.Add(1)
		go func() {
			defer auxWg.Done()
			mon.Run(auxCtx)
		}()
	}

	log.Printf("kubercron: started (tick=%s, crontab=%s)", cfg.TickInterval, cfg.CrontabPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("kubercron: received signal %v, shutting down", received)

	// Phase 1: Stop the poll loop (no new due events)
	log.Println("kubercron: stopping poller...")
	cancelPoller()
	pollerWg.Wait()
	log.Println("kubercron: poller stopped")

	// Phase 2: Stop the watcher and resource monitor
	cancelAux()
	auxWg.Wait()

	// Phase 3: Stop the controller (drains in-flight tasks up to the grace period)
	log.Println("kubercron: stopping controller (draining tasks)...")
	cancelController()
	controllerWg.Wait()

	// Phase 4: Stop the metrics server
	if metricsServer != nil {
		log.Println("kubercron: stopping metrics server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("kubercron: metrics server shutdown error: %v", err)
		}
		log.Println("kubercron: metrics server stopped")
	}

	log.Println("kubercron: stopped")
	return exitSuccess
}

// logConfigWarnings flags configurations that are valid but likely not
// what the operator meant.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false — recoveries, retries and overlap skips will be invisible")
	}
	if cfg.TickInterval > time.Minute {
		log.Printf("WARNING [P1]: TICK_INTERVAL=%s is coarser than crontab minute resolution — due minutes between ticks will be skipped", cfg.TickIntervalStr)
	}
	if !cfg.WatchEnabled {
		log.Println("INFO: WATCH_ENABLED=false — crontab edits require a restart to take effect")
	}
	if cfg.MaxRetries == 0 {
		log.Println("INFO: MAX_RETRIES=0 — failed due slots will not be retried")
	}
}

// openStore picks the state driver. Validate has already checked the
// driver name and its required settings.
func openStore(cfg config.Config) (stateStore, error) {
	switch cfg.StateDriver {
	case "postgres":
		return postgres.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBOpTimeout)
	default:
		return sqlite.Open(cfg.StatePath, sqliteBusyTimeout, cfg.DBOpTimeout)
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	// Validate the crontab too: a syntax error found here is a syntax
	// error not found at 3am.
	parser := crontab.NewParser(crontab.Defaults{
		Timeout:    cfg.TaskTimeout,
		MaxRetries: cfg.MaxRetries,
	})
	table, lineErrs, err := parser.ParseFile(cfg.CrontabPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	for _, le := range lineErrs {
		fmt.Fprintf(os.Stderr, "crontab: %v\n", le)
	}
	if len(lineErrs) > 0 {
		fmt.Fprintf(os.Stderr, "crontab has %d invalid line(s)\n", len(lineErrs))
		return exitInvalidConfig
	}

	fmt.Printf("configuration valid, %d crontab entries\n", table.Len())
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("kubercron version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
