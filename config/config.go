// Package config loads and validates the stack-discovery configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Sink types.
const (
	SinkHTTP   = "http"
	SinkS3     = "s3"
	SinkStdout = "stdout"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STACK_DISCOVERY_"

// TagKeys names the stack tags read for entity ownership.
type TagKeys struct {
	Lifecycle string `json:"lifecycle" yaml:"lifecycle"`
	Owner     string `json:"owner" yaml:"owner"`
	Project   string `json:"project" yaml:"project"`
}

// EntityDefaults are used when a stack carries no ownership tags.
type EntityDefaults struct {
	Lifecycle string `json:"lifecycle" yaml:"lifecycle"`
	Owner     string `json:"owner" yaml:"owner"`
}

// SinkConfig selects where mutations go.
type SinkConfig struct {
	Type    string            `json:"type" yaml:"type"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Bucket  string            `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix  string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region  string            `json:"region,omitempty" yaml:"region,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// MetricsConfig configures the metrics listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// TracingConfig configures span export. An empty Endpoint disables it.
type TracingConfig struct {
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SampleRate float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
	Insecure   bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// Config is the full process configuration.
type Config struct {
	// SourceRoleARN is assumed once from the base credentials.
	SourceRoleARN string `json:"sourceRoleArn" yaml:"sourceRoleArn"`
	// DestinationRoleName is assumed in every member account from the source role.
	DestinationRoleName string `json:"destinationRoleName" yaml:"destinationRoleName"`

	Partition   string   `json:"partition" yaml:"partition"`
	SessionName string   `json:"sessionName" yaml:"sessionName"`
	Regions     []string `json:"regions" yaml:"regions"`

	Concurrency  int           `json:"concurrency" yaml:"concurrency"`
	CycleTimeout time.Duration `json:"cycleTimeout" yaml:"cycleTimeout"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
	InitialDelay time.Duration `json:"initialDelay" yaml:"initialDelay"`
	// APIRateLimit caps CloudFormation requests per second per account.
	APIRateLimit float64 `json:"apiRateLimit" yaml:"apiRateLimit"`

	ProviderKey         string         `json:"providerKey" yaml:"providerKey"`
	AnnotationNamespace string         `json:"annotationNamespace" yaml:"annotationNamespace"`
	Tags                TagKeys        `json:"tags" yaml:"tags"`
	Defaults            EntityDefaults `json:"defaults" yaml:"defaults"`

	Sink    SinkConfig    `json:"sink" yaml:"sink"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`

	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`
}

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		Partition:           "aws",
		SessionName:         "stack-discovery",
		Regions:             []string{"us-east-1"},
		Concurrency:         3,
		CycleTimeout:        10 * time.Minute,
		Interval:            30 * time.Minute,
		APIRateLimit:        5,
		ProviderKey:         "aws-cloudformation",
		AnnotationNamespace: "aws.amazon.com",
		Tags:                TagKeys{Lifecycle: "lifecycle", Owner: "owner", Project: "project"},
		Defaults:            EntityDefaults{Lifecycle: "production", Owner: "unknown"},
		Sink:                SinkConfig{Type: SinkStdout, Timeout: 30 * time.Second},
		Metrics:             MetricsConfig{Namespace: "stack_discovery"},
		Tracing:             TracingConfig{SampleRate: 1, Insecure: true},
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadFromFile reads a YAML config over the defaults and applies
// environment overrides. The result is not validated.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from STACK_DISCOVERY_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SOURCE_ROLE_ARN":       &c.SourceRoleARN,
		"DESTINATION_ROLE_NAME": &c.DestinationRoleName,
		"PARTITION":             &c.Partition,
		"PROVIDER_KEY":          &c.ProviderKey,
		"SINK_TYPE":             &c.Sink.Type,
		"SINK_URL":              &c.Sink.URL,
		"SINK_BUCKET":           &c.Sink.Bucket,
		"SINK_PREFIX":           &c.Sink.Prefix,
		"METRICS_ADDR":          &c.Metrics.Addr,
		"TRACING_ENDPOINT":      &c.Tracing.Endpoint,
		"LOG_LEVEL":             &c.LogLevel,
		"LOG_FORMAT":            &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "REGIONS"); ok {
		c.Regions = nil
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				c.Regions = append(c.Regions, r)
			}
		}
	}
	if v, ok := lookup(EnvPrefix + "CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sCONCURRENCY: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Concurrency = n
	}
	durations := map[string]*time.Duration{
		"CYCLE_TIMEOUT": &c.CycleTimeout,
		"INTERVAL":      &c.Interval,
		"INITIAL_DELAY": &c.InitialDelay,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

// Validate reports every problem that would stop discovery from running.
func (c *Config) Validate() error {
	var problems []string
	if c.DestinationRoleName == "" {
		problems = append(problems, "destinationRoleName is required")
	}
	if len(c.Regions) == 0 {
		problems = append(problems, "at least one region is required")
	}
	if c.Concurrency < 1 {
		problems = append(problems, "concurrency must be at least 1")
	}
	if c.CycleTimeout <= 0 {
		problems = append(problems, "cycleTimeout must be positive")
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if c.ProviderKey == "" {
		problems = append(problems, "providerKey is required")
	}
	switch c.Sink.Type {
	case SinkHTTP:
		if c.Sink.URL == "" {
			problems = append(problems, "sink.url is required for http sinks")
		}
	case SinkS3:
		if c.Sink.Bucket == "" {
			problems = append(problems, "sink.bucket is required for s3 sinks")
		}
	case SinkStdout:
	default:
		problems = append(problems, fmt.Sprintf("unknown sink type %q", c.Sink.Type))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown logLevel %q", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
