package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSampler(t *testing.T, failures int64, retries int) (*Sampler, *scriptedMonitor, *fakeConnector, *metrics.Metrics) {
	t.Helper()
	conn := newFakeConnector()
	c, err := Connect(context.Background(), twoHostConfig(), conn)
	require.NoError(t, err)

	mon := &scriptedMonitor{next: NewCollector(time.Second)}
	mon.failures.Store(failures)
	m := metrics.New()

	s := NewSampler(c, mon, SamplerConfig{
		Interval:   20 * time.Millisecond,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	}, WithSamplerMetrics(m))
	return s, mon, conn, m
}

func TestSampler_SampleOnce(t *testing.T) {
	t.Run("healthy cluster", func(t *testing.T) {
		s, mon, _, m := newTestSampler(t, 0, 3)

		snap, err := s.SampleOnce(context.Background())

		require.NoError(t, err)
		assert.Len(t, snap.Hosts, 2)
		assert.Equal(t, int64(1), mon.calls.Load())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Snapshots.WithLabelValues("lab")))
	})

	t.Run("recovers through reconstruction", func(t *testing.T) {
		s, mon, conn, m := newTestSampler(t, 2, 3)

		snap, err := s.SampleOnce(context.Background())

		require.NoError(t, err)
		assert.Len(t, snap.Hosts, 2)
		assert.Equal(t, int64(3), mon.calls.Load())
		assert.Equal(t, StateActive, s.Cluster().State())
		// initial connect of two hosts plus two reconstructions
		assert.Equal(t, int64(6), conn.connects.Load())
		assert.Equal(t, float64(2), testutil.ToFloat64(m.MonitorFailures.WithLabelValues("lab")))
		assert.Equal(t, float64(2), testutil.ToFloat64(m.Reconstructions.WithLabelValues("lab", metrics.OutcomeSuccess)))
	})

	t.Run("retries exhausted", func(t *testing.T) {
		s, mon, _, _ := newTestSampler(t, 100, 2)

		_, err := s.SampleOnce(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMonitoringFailure)
		assert.Contains(t, err.Error(), "host unreachable")
		assert.Equal(t, int64(3), mon.calls.Load())
		assert.Equal(t, StateDisabled, s.Cluster().State())
	})

	t.Run("reconstruction keeps failing", func(t *testing.T) {
		s, _, conn, _ := newTestSampler(t, 0, 2)
		s.Cluster().Disable(errors.New("lost"))
		conn.setFail("node1", errors.New("no route to host"))

		_, err := s.SampleOnce(context.Background())

		assert.ErrorIs(t, err, ErrMonitoringFailure)
		assert.Contains(t, err.Error(), "no route to host")
	})
}

func TestSampler_Run(t *testing.T) {
	t.Run("samples until cancelled", func(t *testing.T) {
		s, _, _, _ := newTestSampler(t, 0, 1)
		ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
		defer cancel()

		snaps, err := s.Run(ctx)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(snaps), 3)
		for i := 1; i < len(snaps); i++ {
			assert.False(t, snaps[i].Timestamp.Before(snaps[i-1].Timestamp))
		}
	})

	t.Run("surfaces exhausted retries", func(t *testing.T) {
		s, _, _, _ := newTestSampler(t, 100, 1)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		snaps, err := s.Run(ctx)

		assert.ErrorIs(t, err, ErrMonitoringFailure)
		assert.Empty(t, snaps)
	})

	t.Run("already cancelled", func(t *testing.T) {
		s, _, _, _ := newTestSampler(t, 0, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		snaps, err := s.Run(ctx)

		assert.NoError(t, err)
		assert.Empty(t, snaps)
	})
}

func TestReconnectPolicy(t *testing.T) {
	t.Run("backoff doubles up to the ceiling", func(t *testing.T) {
		p := newReconnectPolicy(SamplerConfig{Interval: 750 * time.Millisecond, MaxRetries: 6, RetryDelay: time.Second}, nil, zap.NewNop())
		p.jitter = func(d time.Duration) time.Duration { return d }

		assert.Equal(t, time.Second, p.backoff(1))
		assert.Equal(t, 2*time.Second, p.backoff(2))
		assert.Equal(t, 3*time.Second, p.backoff(3))
		assert.Equal(t, 3*time.Second, p.backoff(6))
	})

	t.Run("jitter sees the attempt delay", func(t *testing.T) {
		p := newReconnectPolicy(SamplerConfig{Interval: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond}, nil, zap.NewNop())
		var seen []time.Duration
		p.jitter = func(d time.Duration) time.Duration {
			seen = append(seen, d)
			return 0
		}
		c, err := Connect(context.Background(), twoHostConfig(), newFakeConnector())
		require.NoError(t, err)
		mon := &scriptedMonitor{next: NewCollector(time.Second)}
		mon.failures.Store(3)

		_, attempts, err := p.sample(context.Background(), c, mon)

		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
		assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, seen)
	})

	t.Run("reports attempts on failure", func(t *testing.T) {
		p := newReconnectPolicy(SamplerConfig{Interval: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond}, nil, zap.NewNop())
		c, err := Connect(context.Background(), twoHostConfig(), newFakeConnector())
		require.NoError(t, err)
		mon := &scriptedMonitor{next: NewCollector(time.Second)}
		mon.failures.Store(100)

		_, attempts, err := p.sample(context.Background(), c, mon)

		assert.ErrorContains(t, err, "host unreachable")
		assert.Equal(t, 2, attempts)
		assert.Equal(t, StateDisabled, c.State())
		assert.ErrorContains(t, c.Cause(), "host unreachable")
	})

	t.Run("no retries still samples once", func(t *testing.T) {
		p := newReconnectPolicy(SamplerConfig{Interval: time.Second}, nil, zap.NewNop())
		assert.Equal(t, 1, p.attempts)
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		p := newReconnectPolicy(SamplerConfig{Interval: time.Minute, MaxRetries: 2, RetryDelay: time.Minute}, nil, zap.NewNop())
		c, err := Connect(context.Background(), twoHostConfig(), newFakeConnector())
		require.NoError(t, err)
		mon := &scriptedMonitor{next: NewCollector(time.Second)}
		mon.failures.Store(100)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, attempts, err := p.sample(ctx, c, mon)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, attempts)
	})
}
