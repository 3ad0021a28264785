package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxSearchPower caps bracketing at 2^20, about a million requests per second
const maxSearchPower = 20

// RateSearchConfig bounds the throughput search
type RateSearchConfig struct {
	StartPower int // First rate tested is 2^StartPower
	MaxPower   int // Last bracketing power, inclusive
	Retries    int // Full restarts from power 0 when no trial qualifies
}

// DefaultRateSearchConfig returns sensible defaults
func DefaultRateSearchConfig() RateSearchConfig {
	return RateSearchConfig{
		StartPower: 0,
		MaxPower:   10,
		Retries:    10,
	}
}

// Searcher finds the limits of a probe by running trials through a Runner.
type Searcher struct {
	runner  Runner
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// SearcherOption configures a searcher
type SearcherOption func(*Searcher)

// WithSearchLogger adds logging
func WithSearchLogger(logger *zap.Logger) SearcherOption {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// WithSearchMetrics counts trials per phase
func WithSearchMetrics(m *metrics.Metrics) SearcherOption {
	return func(s *Searcher) {
		s.metrics = m
	}
}

// NewSearcher creates a searcher on top of runner
func NewSearcher(runner Runner, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		runner: runner,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// trial runs one execution and returns its average response time. The error
// is the runner's error or the execution's empty-result error.
func (s *Searcher) trial(ctx context.Context, probe Probe, rps int, duration time.Duration,
	load int, phase string) (*Execution, time.Duration, error) {
	s.metrics.SearchTrial(probe.Name(), phase)

	exec, err := s.runner.Execute(ctx, probe, rps, duration, load)
	if err != nil {
		return nil, 0, err
	}
	avg, err := exec.AvgResponseTime()

	s.logger.Debug("search trial",
		zap.String("probe", probe.Name()),
		zap.String("phase", phase),
		zap.Int("load", load),
		zap.Int("rps", rps),
		zap.Duration("avg", avg),
		zap.Int("failures", len(exec.Failures)),
		zap.Error(err))
	return exec, avg, err
}

// rateTrial classifies a trial for the throughput search: a trial where every
// request failed counts as over the threshold, a trial with no requests at
// all is an error.
func (s *Searcher) rateTrial(ctx context.Context, probe Probe, rps int, duration time.Duration,
	load int, threshold time.Duration, phase string) (exec *Execution, avg time.Duration, exceeded bool, err error) {
	exec, avg, err = s.trial(ctx, probe, rps, duration, load, phase)
	var allFailed *AllFailedError
	switch {
	case err == nil:
		return exec, avg, avg >= threshold, nil
	case errors.As(err, &allFailed):
		return exec, 0, true, nil
	default:
		return nil, 0, false, err
	}
}

// FindMaxRate returns the highest request rate at which probe keeps its
// average response time under threshold at the given load.
//
// Rates 2^p are tried from StartPower up to MaxPower until one exceeds the
// threshold, then the bracket [2^(p-1), 2^p] is binary-searched with the
// upper midpoint. The returned execution carries the converged rate and the
// results of the trial whose average was highest while still under the
// threshold. Its spans cover the whole search.
//
// When the bracket never exceeds the threshold the search fails at once with
// ErrSearchExhausted. When no trial qualifies it restarts from power 0, up to
// Retries times.
func (s *Searcher) FindMaxRate(ctx context.Context, probe Probe, load int, duration, threshold time.Duration,
	cfg RateSearchConfig) (*Execution, error) {
	if err := validateRateSearch(probe, duration, threshold, cfg); err != nil {
		return nil, err
	}

	name := probe.Name()
	searchStart := time.Now()
	startPower := cfg.StartPower

	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			startPower = 0
			s.logger.Warn("no rate qualified, restarting throughput search",
				zap.String("probe", name),
				zap.Int("load", load),
				zap.Int("attempt", attempt+1),
				zap.Int("maxAttempts", cfg.Retries+1))
		}

		winner, rps, err := s.searchRate(ctx, probe, load, duration, threshold, startPower, cfg.MaxPower)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			continue
		}

		span := spanBetween(searchStart, time.Now())
		s.logger.Info("throughput search converged",
			zap.String("probe", name),
			zap.Int("load", load),
			zap.Int("rps", rps),
			zap.Int("attempts", attempt+1),
			zap.Duration("elapsed", span.Duration()))

		return &Execution{
			ID:                uuid.New(),
			Probe:             probe,
			ProbeName:         name,
			RequestedLoad:     load,
			RequestsPerSecond: rps,
			Duration:          duration,
			TotalSpan:         span,
			RequestSpan:       span,
			Results:           winner.Results,
			Failures:          winner.Failures,
		}, nil
	}

	return nil, fmt.Errorf("%w: no rate for %s at load %d stayed under %s after %d attempts",
		ErrSearchExhausted, name, load, threshold, cfg.Retries+1)
}

// searchRate is one bracketing and refinement pass. It returns the best
// qualifying trial, or nil when none qualified, and the converged rate.
func (s *Searcher) searchRate(ctx context.Context, probe Probe, load int, duration, threshold time.Duration,
	startPower, maxPower int) (*Execution, int, error) {
	var best *Execution
	var bestAvg time.Duration

	consider := func(exec *Execution, avg time.Duration, exceeded bool) {
		if exceeded {
			return
		}
		if best == nil || avg > bestAvg {
			best, bestAvg = exec, avg
		}
	}

	// Phase 1: double until the threshold is crossed
	power := -1
	for p := startPower; p <= maxPower; p++ {
		exec, avg, exceeded, err := s.rateTrial(ctx, probe, 1<<p, duration, load, threshold, metrics.PhaseBracket)
		if err != nil {
			return nil, 0, fmt.Errorf("bracketing at %d rps: %w", 1<<p, err)
		}
		consider(exec, avg, exceeded)
		if exceeded {
			power = p
			break
		}
	}
	if power < 0 {
		return nil, 0, fmt.Errorf("%w: %s at load %d stayed under %s up to %d rps",
			ErrSearchExhausted, probe.Name(), load, threshold, 1<<maxPower)
	}

	// Phase 2: binary search on [2^(p-1), 2^p]
	lower, upper := (1<<power)/2, 1<<power
	for lower < upper {
		mid := (lower + upper + 1) / 2
		exec, avg, exceeded, err := s.rateTrial(ctx, probe, mid, duration, load, threshold, metrics.PhaseRefine)
		if err != nil {
			return nil, 0, fmt.Errorf("refining at %d rps: %w", mid, err)
		}
		consider(exec, avg, exceeded)
		if exceeded {
			upper = mid - 1
		} else {
			lower = mid
		}
	}

	return best, lower, nil
}

func validateRateSearch(probe Probe, duration, threshold time.Duration, cfg RateSearchConfig) error {
	switch {
	case probe == nil:
		return fmt.Errorf("%w: nil probe", ErrInvalidParameter)
	case threshold <= 0:
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrInvalidParameter, threshold)
	case cfg.StartPower < 0 || cfg.MaxPower < cfg.StartPower:
		return fmt.Errorf("%w: power range [%d, %d]", ErrInvalidParameter, cfg.StartPower, cfg.MaxPower)
	case cfg.MaxPower > maxSearchPower:
		return fmt.Errorf("%w: max power %d above %d", ErrInvalidParameter, cfg.MaxPower, maxSearchPower)
	case cfg.Retries < 0:
		return fmt.Errorf("%w: negative retries", ErrInvalidParameter)
	case duration < 0:
		return fmt.Errorf("%w: duration must not be negative, got %s", ErrInvalidParameter, duration)
	}
	n, err := dispatchCount(1<<cfg.StartPower, duration)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s at %d rps dispatches no requests", ErrInvalidParameter, duration, 1<<cfg.StartPower)
	}
	return nil
}
