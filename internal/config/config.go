// Package config loads the capscout configuration file.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/FairForge/capscout/internal/benchmark"
	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/FairForge/capscout/internal/probes"
	"github.com/FairForge/capscout/internal/storage"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schema string

// ErrInvalidConfig is returned when the file does not match the schema or
// fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	App            AppConfig       `yaml:"app"`
	MonitorServers []MonitorServer `yaml:"monitorServers"`
	SSH            SSHConfig       `yaml:"ssh"`
	Benchmark      BenchmarkConfig `yaml:"benchmark"`
	Storage        StorageConfig   `yaml:"storage"`
	Logging        LoggingConfig   `yaml:"logging"`
	Metrics        MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	Name    string   `yaml:"name"` // Also the cluster name
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"` // Per-request probe timeout
}

type MonitorServer struct {
	Host           string         `yaml:"host"`
	Port           int            `yaml:"port"`
	Authentication Authentication `yaml:"authentication"`
}

type Authentication struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SSHConfig struct {
	KnownHostsFile string   `yaml:"knownHostsFile"` // Empty skips host key checks
	Timeout        Duration `yaml:"timeout"`
}

type BenchmarkConfig struct {
	Probes               []string `yaml:"probes"` // Empty runs every probe
	MaxResponseTime      Duration `yaml:"maxResponseTime"`
	DurationPerTest      Duration `yaml:"durationPerTest"`
	MaxLoadsToTest       int      `yaml:"maxLoadsToTest"`
	MinRequestsPerSecond int      `yaml:"minRequestsPerSecond"`
	RestTime             Duration `yaml:"restTime"`
	MonitoringInterval   Duration `yaml:"monitoringInterval"`
	MonitorRetries       int      `yaml:"monitorRetries"`
	StartPower           int      `yaml:"startPower"`
	MaxPower             int      `yaml:"maxPower"`
	SearchRetries        int      `yaml:"searchRetries"`
	LoadIncrement        int      `yaml:"loadIncrement"`
	MaxLoadIterations    int      `yaml:"maxLoadIterations"`
}

type StorageConfig struct {
	Path     string           `yaml:"path"`
	Compress bool             `yaml:"compress"`
	S3       storage.S3Config `yaml:"s3"`
	Postgres PostgresConfig   `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint
}

// Duration reads either a Go duration string ("1m30s") or a number of seconds
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(value.Value, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used for anything the file leaves out
func Default() *Config {
	bench := benchmark.DefaultConfig()
	return &Config{
		App: AppConfig{
			Name:    "default",
			URL:     "http://localhost:8080",
			Timeout: Duration(probes.DefaultTimeout),
		},
		SSH: SSHConfig{
			Timeout: Duration(10 * time.Second),
		},
		Benchmark: BenchmarkConfig{
			MaxResponseTime:      Duration(bench.Threshold),
			DurationPerTest:      Duration(bench.Duration),
			MaxLoadsToTest:       bench.MaxLoadLevels,
			MinRequestsPerSecond: bench.MinRate,
			RestTime:             Duration(bench.RestTime),
			MonitoringInterval:   Duration(bench.Sampler.Interval),
			MonitorRetries:       bench.Sampler.MaxRetries,
			StartPower:           bench.RateSearch.StartPower,
			MaxPower:             bench.RateSearch.MaxPower,
			SearchRetries:        bench.RateSearch.Retries,
			LoadIncrement:        bench.LoadSearch.Increment,
			MaxLoadIterations:    bench.LoadSearch.MaxIterations,
		},
		Storage: StorageConfig{
			Path: "db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML or JSON file, checks it against the schema, applies it
// over the defaults and then applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory data
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	// round-trip through JSON so the validator sees plain JSON types
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	return nil
}

// Validate checks what the schema cannot
func (c *Config) Validate() error {
	if c.App.URL == "" {
		return fmt.Errorf("%w: app.url is required", ErrInvalidConfig)
	}
	if c.App.Timeout <= 0 {
		return fmt.Errorf("%w: app.timeout must be positive", ErrInvalidConfig)
	}
	for i, s := range c.MonitorServers {
		if s.Host == "" {
			return fmt.Errorf("%w: monitorServers[%d].host is required", ErrInvalidConfig, i)
		}
	}
	if err := c.BenchmarkSettings().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be json or console", ErrInvalidConfig)
	}
	return nil
}

// ProbeOptions configures the probes built against the application
func (c *Config) ProbeOptions() []probes.Option {
	return []probes.Option{probes.WithTimeout(c.App.Timeout.D())}
}

// ClusterConfig describes the monitored hosts
func (c *Config) ClusterConfig() cluster.Config {
	hosts := make([]cluster.HostConfig, 0, len(c.MonitorServers))
	for _, s := range c.MonitorServers {
		hosts = append(hosts, cluster.HostConfig{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Authentication.Username,
			Password: s.Authentication.Password,
		})
	}
	return cluster.Config{Name: c.App.Name, Hosts: hosts}
}

// BenchmarkSettings maps the benchmark section onto the orchestrator config
func (c *Config) BenchmarkSettings() benchmark.Config {
	b := c.Benchmark
	sampler := cluster.DefaultSamplerConfig()
	sampler.Interval = b.MonitoringInterval.D()
	sampler.MaxRetries = b.MonitorRetries

	return benchmark.Config{
		Threshold:     b.MaxResponseTime.D(),
		Duration:      b.DurationPerTest.D(),
		MaxLoadLevels: b.MaxLoadsToTest,
		RestTime:      b.RestTime.D(),
		MinRate:       b.MinRequestsPerSecond,
		Sampler:       sampler,
		RateSearch: loadtest.RateSearchConfig{
			StartPower: b.StartPower,
			MaxPower:   b.MaxPower,
			Retries:    b.SearchRetries,
		},
		LoadSearch: loadtest.LoadSearchConfig{
			Increment:     b.LoadIncrement,
			MaxIterations: b.MaxLoadIterations,
		},
	}
}
