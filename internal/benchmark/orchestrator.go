package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/FairForge/capscout/internal/metrics"
	"go.uber.org/zap"
)

// Config holds the benchmark parameters
type Config struct {
	Threshold     time.Duration // Highest acceptable average response time
	Duration      time.Duration // Length of every trial
	MaxLoadLevels int           // Load levels measured per probe
	RestTime      time.Duration // Idle time before each rerun and between probes
	MinRate       int           // Fixed rate of the load search

	Sampler    cluster.SamplerConfig
	RateSearch loadtest.RateSearchConfig
	LoadSearch loadtest.LoadSearchConfig
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Threshold:     2 * time.Second,
		Duration:      30 * time.Second,
		MaxLoadLevels: 3,
		RestTime:      30 * time.Second,
		MinRate:       1,
		Sampler:       cluster.DefaultSamplerConfig(),
		RateSearch:    loadtest.DefaultRateSearchConfig(),
		LoadSearch:    loadtest.DefaultLoadSearchConfig(),
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.Threshold <= 0:
		return fmt.Errorf("%w: threshold must be positive", loadtest.ErrInvalidParameter)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", loadtest.ErrInvalidParameter)
	case c.MaxLoadLevels < 1:
		return fmt.Errorf("%w: at least one load level is required", loadtest.ErrInvalidParameter)
	case c.RestTime < 0:
		return fmt.Errorf("%w: rest time must not be negative", loadtest.ErrInvalidParameter)
	case c.MinRate < 1:
		return fmt.Errorf("%w: minimum rate must be at least 1", loadtest.ErrInvalidParameter)
	}
	return nil
}

// Orchestrator runs the full benchmark procedure
type Orchestrator struct {
	runner   loadtest.Runner
	searcher *loadtest.Searcher
	monitor  cluster.Monitor
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures an orchestrator
type Option func(*Orchestrator)

// WithLogger adds logging
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics records search and sampling metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(runner loadtest.Runner, monitor cluster.Monitor, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		runner:  runner,
		monitor: monitor,
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.searcher = loadtest.NewSearcher(runner,
		loadtest.WithSearchLogger(o.logger),
		loadtest.WithSearchMetrics(o.metrics))
	return o, nil
}

// Sampler builds the background sampler used for a cluster
func (o *Orchestrator) Sampler(c *cluster.Cluster) *cluster.Sampler {
	return cluster.NewSampler(c, o.monitor, o.config.Sampler,
		cluster.WithSamplerLogger(o.logger),
		cluster.WithSamplerMetrics(o.metrics))
}

// Run benchmarks each probe in turn. On failure the benchmarks completed so
// far are returned with the error, followed by a partial benchmark of the
// failing probe when some of its reruns were kept.
func (o *Orchestrator) Run(ctx context.Context, probes []loadtest.Probe, c *cluster.Cluster) ([]*Benchmark, error) {
	sampler := o.Sampler(c)
	benchmarks := make([]*Benchmark, 0, len(probes))

	for i, probe := range probes {
		if i > 0 {
			if err := o.rest(ctx, "next probe"); err != nil {
				return benchmarks, err
			}
		}

		b, err := o.RunProbe(ctx, probe, c, sampler)
		if err != nil {
			if pb := o.partialBenchmark(c, err); pb != nil {
				benchmarks = append(benchmarks, pb)
			}
			return benchmarks, err
		}
		benchmarks = append(benchmarks, b)
	}
	return benchmarks, nil
}

// RunProbe benchmarks a single probe:
//
//  1. one cluster sample, to surface connectivity problems early
//  2. load search at the minimum rate
//  3. throughput search at the accepted load
//  4. throughput searches at up to MaxLoadLevels-1 lower loads, each seeded
//     from the previous rate
//  5. one monitored rerun per accepted (load, rate) pair
func (o *Orchestrator) RunProbe(ctx context.Context, probe loadtest.Probe, c *cluster.Cluster,
	sampler *cluster.Sampler) (*Benchmark, error) {
	name := probe.Name()
	cfg := o.config
	log := o.logger.With(zap.String("probe", name), zap.String("cluster", c.Name()))

	log.Info("checking cluster before benchmark")
	if _, err := sampler.SampleOnce(ctx); err != nil {
		return nil, &PhaseError{Phase: PhaseDryRun, Probe: name, Err: err}
	}

	log.Info("searching maximum load", zap.Int("rps", cfg.MinRate))
	loadExec, err := o.searcher.FindMaxLoad(ctx, probe, cfg.MinRate, cfg.Duration, cfg.Threshold, cfg.LoadSearch)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseLoadSearch, Probe: name, Load: startLoad(probe, cfg.LoadSearch), Rate: cfg.MinRate, Err: err}
	}
	load := loadExec.Load()
	log.Info("maximum load found", zap.Int("load", load))

	accepted, err := o.searchLoadLevels(ctx, probe, load, log)
	if err != nil {
		return nil, err
	}

	reruns := make([]*loadtest.Execution, 0, len(accepted))
	for _, exec := range accepted {
		if err := o.rest(ctx, "monitored rerun"); err != nil {
			return nil, &PhaseError{Phase: PhaseRerun, Probe: name, Load: exec.Load(), Rate: exec.RequestsPerSecond, Err: err, Partial: reruns}
		}

		log.Info("monitored rerun",
			zap.Int("load", exec.Load()),
			zap.Int("rps", exec.RequestsPerSecond))
		rerun, err := loadtest.RerunWhileMonitoring(ctx, o.runner, sampler, exec)
		if err != nil {
			phase := PhaseRerun
			if errors.Is(err, cluster.ErrMonitoringFailure) {
				phase = PhaseMonitoring
			}
			if rerun != nil && len(rerun.Results) > 0 {
				reruns = append(reruns, rerun)
			}
			return nil, &PhaseError{Phase: phase, Probe: name, Load: exec.Load(), Rate: exec.RequestsPerSecond, Err: err, Partial: reruns}
		}
		reruns = append(reruns, rerun)
	}

	b, err := New(name, c.Name(), c.Hosts(), reruns)
	if err != nil {
		return nil, err
	}
	log.Info("benchmark complete", zap.Int("executions", len(b.Executions)))
	return b, nil
}

// partialBenchmark keeps the reruns a failed probe finished
func (o *Orchestrator) partialBenchmark(c *cluster.Cluster, err error) *Benchmark {
	var pe *PhaseError
	if !errors.As(err, &pe) || len(pe.Partial) == 0 {
		return nil
	}
	b, nerr := New(pe.Probe, c.Name(), c.Hosts(), pe.Partial)
	if nerr != nil {
		return nil
	}
	b.Partial = true
	o.logger.Warn("keeping partial benchmark",
		zap.String("probe", pe.Probe),
		zap.String("phase", string(pe.Phase)),
		zap.Int("executions", len(b.Executions)))
	return b
}

// searchLoadLevels finds the best rate at load and at each lower level
func (o *Orchestrator) searchLoadLevels(ctx context.Context, probe loadtest.Probe, load int,
	log *zap.Logger) ([]*loadtest.Execution, error) {
	cfg := o.config
	name := probe.Name()
	step := cfg.LoadSearch.Increment
	if step < 1 {
		step = 1
	}
	floor := probeMinLoad(probe)

	rateCfg := cfg.RateSearch
	accepted := make([]*loadtest.Execution, 0, cfg.MaxLoadLevels)

	for level := 0; level < cfg.MaxLoadLevels; level++ {
		if level > 0 {
			load -= step
			if load < floor {
				log.Info("no lower load left to measure", zap.Int("minLoad", floor))
				break
			}
			rateCfg.StartPower = seedPower(accepted[len(accepted)-1].RequestsPerSecond, rateCfg.MaxPower)
		}

		log.Info("searching maximum rate",
			zap.Int("load", load),
			zap.Int("startPower", rateCfg.StartPower))
		exec, err := o.searcher.FindMaxRate(ctx, probe, load, cfg.Duration, cfg.Threshold, rateCfg)
		if err != nil {
			return nil, &PhaseError{Phase: PhaseThroughputSearch, Probe: name, Load: load, Rate: 1 << rateCfg.StartPower, Err: err}
		}
		log.Info("maximum rate found", zap.Int("load", load), zap.Int("rps", exec.RequestsPerSecond))
		accepted = append(accepted, exec)
	}
	return accepted, nil
}

func (o *Orchestrator) rest(ctx context.Context, before string) error {
	if o.config.RestTime <= 0 {
		return nil
	}
	o.logger.Info("resting", zap.Duration("restTime", o.config.RestTime), zap.String("before", before))

	timer := time.NewTimer(o.config.RestTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// seedPower is floor(log2(rps)), capped at maxPower: a lower load should
// sustain at least the previous rate
func seedPower(rps, maxPower int) int {
	if rps < 1 {
		return 0
	}
	p := bits.Len(uint(rps)) - 1
	if p > maxPower {
		p = maxPower
	}
	return p
}

func probeMinLoad(probe loadtest.Probe) int {
	if ml, ok := probe.(loadtest.MinLoader); ok && ml.MinLoad() > 0 {
		return ml.MinLoad()
	}
	return 1
}

func startLoad(probe loadtest.Probe, cfg loadtest.LoadSearchConfig) int {
	if cfg.StartLoad > 0 {
		return cfg.StartLoad
	}
	return probeMinLoad(probe)
}
