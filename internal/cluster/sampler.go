// internal/cluster/sampler.go
package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"go.uber.org/zap"
)

// ErrMonitoringFailure is returned when a cluster could not be sampled even
// after reconstructing it
var ErrMonitoringFailure = errors.New("cluster monitoring failed")

// SamplerConfig controls the background sampling loop
type SamplerConfig struct {
	Interval   time.Duration // Time between samples
	MaxRetries int           // Reconstruct-and-retry attempts after a failed sample
	RetryDelay time.Duration // Initial backoff between retries
}

// DefaultSamplerConfig returns sensible defaults
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval:   500 * time.Millisecond,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Sampler repeatedly snapshots a cluster
type Sampler struct {
	cluster *Cluster
	monitor Monitor
	config  SamplerConfig
	retry   *reconnectPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// SamplerOption configures a sampler
type SamplerOption func(*Sampler)

// WithSamplerLogger adds logging
func WithSamplerLogger(logger *zap.Logger) SamplerOption {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithSamplerMetrics records sampling outcomes
func WithSamplerMetrics(m *metrics.Metrics) SamplerOption {
	return func(s *Sampler) {
		s.metrics = m
	}
}

// NewSampler creates a sampler for the cluster
func NewSampler(c *Cluster, monitor Monitor, cfg SamplerConfig, opts ...SamplerOption) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSamplerConfig().Interval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	s := &Sampler{
		cluster: c,
		monitor: monitor,
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.retry = newReconnectPolicy(cfg, s.metrics, s.logger)
	return s
}

// Cluster returns the sampled cluster
func (s *Sampler) Cluster() *Cluster {
	return s.cluster
}

// SampleOnce takes a single snapshot. A disabled cluster is reconstructed
// first; a failed sample disables it so the next attempt reconstructs.
func (s *Sampler) SampleOnce(ctx context.Context) (Snapshot, error) {
	name := s.cluster.Name()

	snap, attempts, err := s.retry.sample(ctx, s.cluster, s.monitor)
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		return Snapshot{}, fmt.Errorf("%w: cluster %s after %d attempts: %w",
			ErrMonitoringFailure, name, attempts, err)
	}

	s.metrics.SnapshotRecorded(name)
	return snap, nil
}

// Run samples immediately and then every interval until ctx is done,
// returning the snapshots in sample order. Cancellation is the normal way to
// stop it and is not reported as an error.
func (s *Sampler) Run(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		snap, err := s.SampleOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return snaps, nil
			}
			s.logger.Error("monitoring failed",
				zap.String("cluster", s.cluster.Name()),
				zap.Int("snapshots", len(snaps)),
				zap.NamedError("cause", s.cluster.Cause()),
				zap.Error(err))
			return snaps, err
		}
		snaps = append(snaps, snap)

		select {
		case <-ctx.Done():
			return snaps, nil
		case <-ticker.C:
		}
	}
}
