package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/GoCodeAlone/stack-discovery/assume"
	"github.com/GoCodeAlone/stack-discovery/catalog"
	"github.com/GoCodeAlone/stack-discovery/config"
	"github.com/GoCodeAlone/stack-discovery/discovery"
	"github.com/GoCodeAlone/stack-discovery/entity"
	"github.com/GoCodeAlone/stack-discovery/metrics"
	"github.com/GoCodeAlone/stack-discovery/observability/tracing"
	"github.com/GoCodeAlone/stack-discovery/org"
	"github.com/GoCodeAlone/stack-discovery/scheduler"
)

// components holds the process-wide pieces an engine is assembled from.
type components struct {
	aws     aws.Config
	metrics *metrics.Collector
	tracer  *tracing.DiscoveryTracer
	logger  *slog.Logger
}

func (c *components) buildEngine(cfg *config.Config) (*discovery.Engine, error) {
	sink, err := c.newSink(cfg.Sink)
	if err != nil {
		return nil, err
	}

	resolver := assume.New(c.aws, assume.Config{
		SourceRoleARN: cfg.SourceRoleARN,
		RoleName:      cfg.DestinationRoleName,
		Partition:     cfg.Partition,
		SessionName:   cfg.SessionName,
		Logger:        c.logger,
	})

	builder := entity.NewBuilder(entity.Options{
		AnnotationNamespace: cfg.AnnotationNamespace,
		LifecycleTag:        cfg.Tags.Lifecycle,
		OwnerTag:            cfg.Tags.Owner,
		ProjectTag:          cfg.Tags.Project,
		DefaultLifecycle:    cfg.Defaults.Lifecycle,
		DefaultOwner:        cfg.Defaults.Owner,
	})

	return discovery.NewEngine(
		discovery.Config{
			Regions:      cfg.Regions,
			Concurrency:  cfg.Concurrency,
			CycleTimeout: cfg.CycleTimeout,
		},
		org.NewEnumerator(c.sourceConfig(cfg)),
		resolver,
		discovery.NewAWSScannerFactory(c.aws, cfg.APIRateLimit, c.logger),
		builder,
		catalog.NewEmitter(sink, cfg.ProviderKey, c.logger),
		discovery.WithLogger(c.logger),
		discovery.WithMetrics(c.metrics),
		discovery.WithTracer(c.tracer),
	), nil
}

// sourceConfig returns an AWS config acting as the source role, which is
// the identity allowed to list the organization.
func (c *components) sourceConfig(cfg *config.Config) aws.Config {
	if cfg.SourceRoleARN == "" {
		return c.aws
	}
	src := c.aws.Copy()
	src.Credentials = assume.SourceProvider(sts.NewFromConfig(c.aws), cfg.SourceRoleARN, cfg.SessionName)
	return src
}

func (c *components) newSink(sc config.SinkConfig) (catalog.Sink, error) {
	switch sc.Type {
	case config.SinkHTTP:
		return catalog.NewHTTPSink(catalog.HTTPSinkConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Timeout: sc.Timeout,
		})
	case config.SinkS3:
		client := s3.NewFromConfig(c.aws, func(o *s3.Options) {
			if sc.Region != "" {
				o.Region = sc.Region
			}
		})
		return catalog.NewS3Sink(client, sc.Bucket, sc.Prefix), nil
	case config.SinkStdout, "":
		return catalog.NewWriterSink(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
}

// reload applies a changed configuration to the running scheduler.
func (c *components) reload(cfg *config.Config, sched *scheduler.Scheduler, level *slog.LevelVar) {
	engine, err := c.buildEngine(cfg)
	if err != nil {
		c.logger.Error("config reload rejected", "error", err)
		return
	}
	level.Set(parseLevel(cfg.LogLevel))
	sched.SetRunner(engine)
	sched.SetInterval(cfg.Interval)
	c.logger.Info("configuration reloaded",
		"regions", cfg.Regions,
		"concurrency", cfg.Concurrency,
		"interval", cfg.Interval)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
