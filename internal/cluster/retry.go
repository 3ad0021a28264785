// internal/cluster/retry.go
package cluster

import (
	"context"
	"math/rand"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"go.uber.org/zap"
)

// reconnectPolicy samples a cluster with bounded retries. Every attempt
// reconstructs a disabled cluster first, and a failed sample disables the
// cluster so the next attempt starts from fresh connections.
type reconnectPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    func(time.Duration) time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func newReconnectPolicy(cfg SamplerConfig, m *metrics.Metrics, logger *zap.Logger) *reconnectPolicy {
	return &reconnectPolicy{
		attempts:  cfg.MaxRetries + 1,
		baseDelay: cfg.RetryDelay,
		maxDelay:  cfg.Interval * 4,
		jitter:    halfJitter,
		metrics:   m,
		logger:    logger,
	}
}

// halfJitter spreads d over [d/2, 3d/2)
func halfJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

// backoff is the wait before the given attempt, doubling from the base delay
// after the second attempt and capped at maxDelay
func (p *reconnectPolicy) backoff(attempt int) time.Duration {
	d := p.baseDelay
	for i := 1; i < attempt && d < p.maxDelay; i++ {
		d *= 2
	}
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return p.jitter(d)
}

// sample returns the first successful snapshot and the attempts it took. On
// failure the attempt count is how many ran before giving up.
func (p *reconnectPolicy) sample(ctx context.Context, c *Cluster, monitor Monitor) (Snapshot, int, error) {
	name := c.Name()
	var lastErr error

	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			p.logger.Debug("sample failed, reconnecting",
				zap.String("cluster", name),
				zap.Int("attempt", attempt+1),
				zap.Int("maxAttempts", p.attempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Snapshot{}, attempt, ctx.Err()
			}
		}

		snap, err := p.try(ctx, c, monitor)
		if err == nil {
			if attempt > 0 {
				p.logger.Debug("sample succeeded after reconnect",
					zap.String("cluster", name),
					zap.Int("attempt", attempt+1))
			}
			return snap, attempt + 1, nil
		}
		if ctx.Err() != nil {
			return Snapshot{}, attempt + 1, ctx.Err()
		}
		lastErr = err
	}
	return Snapshot{}, p.attempts, lastErr
}

func (p *reconnectPolicy) try(ctx context.Context, c *Cluster, monitor Monitor) (Snapshot, error) {
	name := c.Name()
	if c.State() == StateDisabled {
		err := c.Reconstruct(ctx)
		p.metrics.Reconstructed(name, err)
		if err != nil {
			return Snapshot{}, err
		}
	}

	snap, err := monitor.Sample(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		p.metrics.MonitorFailed(name)
		c.Disable(err)
		return Snapshot{}, err
	}
	return snap, nil
}
