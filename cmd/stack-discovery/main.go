package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/GoCodeAlone/stack-discovery/config"
	"github.com/GoCodeAlone/stack-discovery/metrics"
	"github.com/GoCodeAlone/stack-discovery/observability/tracing"
	"github.com/GoCodeAlone/stack-discovery/scheduler"
)

var version = "dev"

var (
	configFile = flag.String("config", "", "Path to stack-discovery configuration YAML file")
	once       = flag.Bool("once", false, "Run a single refresh cycle and exit")
	watch      = flag.Bool("watch", true, "Reload the configuration file when it changes")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.LogLevel))
	logger := newLogger(os.Stderr, cfg.LogFormat, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, level, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stack-discovery stopped", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Defaults()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	} else if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    "stack-discovery",
		ServiceVersion: version,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	deps := &components{
		aws:     awsCfg,
		metrics: collector,
		tracer:  tracing.NewDiscoveryTracer(tp.Tracer()),
		logger:  logger,
	}

	engine, err := deps.buildEngine(cfg)
	if err != nil {
		return err
	}

	if *once {
		res, err := engine.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info("single cycle finished", "cycle", res.ID, "entities", len(res.Snapshot.Entities))
		return nil
	}

	sched := scheduler.New(engine, cfg.Interval,
		scheduler.WithInitialDelay(cfg.InitialDelay),
		scheduler.WithLogger(logger))

	if cfg.Metrics.Addr != "" {
		srv := newStatusServer(cfg.Metrics.Addr, collector, sched)
		go func() {
			logger.Info("Starting status server", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if *watch && *configFile != "" {
		w := config.NewWatcher(*configFile, func(next *config.Config) {
			deps.reload(next, sched, level)
		}, config.WithWatchLogger(logger))
		if err := w.Start(); err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	logger.Info("stack-discovery started", startupFields(cfg, tp.Enabled())...)
	return sched.Start(ctx)
}

func startupFields(cfg *config.Config, tracingEnabled bool) []any {
	return []any{
		"version", version,
		"interval", cfg.Interval,
		"regions", cfg.Regions,
		"concurrency", cfg.Concurrency,
		"sink", cfg.Sink.Type,
		"tracing", tracingEnabled,
	}
}

func newStatusServer(addr string, collector *metrics.Collector, sched *scheduler.Scheduler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	scheduler.NewHandler(sched).RegisterRoutes(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
