package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"go.uber.org/zap"
)

// LoadSearchConfig bounds the load-level search
type LoadSearchConfig struct {
	StartLoad     int // First load tested; zero means the probe's minimum
	Increment     int // Load step between trials
	MaxIterations int // Trial ceiling
}

// DefaultLoadSearchConfig returns sensible defaults
func DefaultLoadSearchConfig() LoadSearchConfig {
	return LoadSearchConfig{
		Increment:     1,
		MaxIterations: 100,
	}
}

// FindMaxLoad returns the trial at the highest load whose average response
// time stays under threshold at a fixed rate. Loads are tried in order, so no
// intermediate load is skipped.
//
// A trial that errors, or where every request failed, ends the search: the
// last accepted trial is returned if there is one, otherwise the error.
// Context cancellation is always returned as an error. If the first load
// already exceeds the threshold the search fails with ErrSearchExhausted.
func (s *Searcher) FindMaxLoad(ctx context.Context, probe Probe, rps int, duration, threshold time.Duration,
	cfg LoadSearchConfig) (*Execution, error) {
	if err := validateLoadSearch(probe, rps, duration, threshold, cfg); err != nil {
		return nil, err
	}

	name := probe.Name()
	load := cfg.StartLoad
	if load <= 0 {
		load = minLoad(probe)
	}

	var accepted *Execution
	for i := 0; i < cfg.MaxIterations; i++ {
		exec, avg, err := s.trial(ctx, probe, rps, duration, load, metrics.PhaseLoad)
		if err != nil {
			if ctx.Err() != nil || accepted == nil {
				return nil, fmt.Errorf("load search for %s at load %d: %w", name, load, err)
			}
			s.logger.Warn("load search stopped by failing trial, keeping last accepted load",
				zap.String("probe", name),
				zap.Int("load", load),
				zap.Int("accepted", accepted.Load()),
				zap.Error(err))
			return accepted, nil
		}

		if avg >= threshold {
			if accepted == nil {
				return nil, fmt.Errorf("%w: %s exceeds %s already at load %d (avg %s)",
					ErrSearchExhausted, name, threshold, load, avg)
			}
			s.logger.Info("load search converged",
				zap.String("probe", name),
				zap.Int("load", accepted.Load()),
				zap.Int("exceededAt", load),
				zap.Duration("avg", avg))
			return accepted, nil
		}

		accepted = exec
		load += cfg.Increment
	}

	s.logger.Warn("load search hit iteration limit without exceeding threshold",
		zap.String("probe", name),
		zap.Int("load", accepted.Load()),
		zap.Int("iterations", cfg.MaxIterations))
	return accepted, nil
}

func validateLoadSearch(probe Probe, rps int, duration, threshold time.Duration, cfg LoadSearchConfig) error {
	switch {
	case probe == nil:
		return fmt.Errorf("%w: nil probe", ErrInvalidParameter)
	case rps <= 0:
		return fmt.Errorf("%w: rate must be positive, got %d", ErrInvalidParameter, rps)
	case threshold <= 0:
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrInvalidParameter, threshold)
	case cfg.Increment <= 0:
		return fmt.Errorf("%w: load increment must be positive, got %d", ErrInvalidParameter, cfg.Increment)
	case cfg.MaxIterations <= 0:
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidParameter, cfg.MaxIterations)
	case int64(rps)*int64(duration) < int64(time.Second):
		return fmt.Errorf("%w: %s at %d rps dispatches no requests", ErrInvalidParameter, duration, rps)
	}
	return nil
}
