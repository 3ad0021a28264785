package loadtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExecutor_InvalidParameters(t *testing.T) {
	e := NewExecutor()
	probe := &sleepProbe{name: "p"}
	ctx := context.Background()

	tests := []struct {
		name     string
		probe    Probe
		rps      int
		duration time.Duration
	}{
		{"zero rate", probe, 0, time.Second},
		{"negative rate", probe, -5, time.Second},
		{"negative duration", probe, 10, -time.Second},
		{"nil probe", nil, 10, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := e.Execute(ctx, tt.probe, tt.rps, tt.duration, 1)
			assert.ErrorIs(t, err, ErrInvalidParameter)
			assert.Nil(t, exec)
		})
	}
	assert.Zero(t, probe.calls.Load())
}

func TestExecutor_DispatchCount(t *testing.T) {
	tests := []struct {
		rps      int
		duration time.Duration
		want     int
	}{
		{rps: 50, duration: 200 * time.Millisecond, want: 10},
		{rps: 30, duration: 150 * time.Millisecond, want: 4}, // floor(4.5)
		{rps: 7, duration: 0, want: 0},
	}

	for _, tt := range tests {
		probe := &sleepProbe{name: "fibonacci", latency: 2 * time.Millisecond}

		exec, err := NewExecutor().Execute(context.Background(), probe, tt.rps, tt.duration, 3)

		require.NoError(t, err)
		assert.Equal(t, tt.want, exec.Requests())
		assert.Equal(t, int64(tt.want), probe.calls.Load())
		assert.Len(t, exec.Results, tt.want)
		assert.Empty(t, exec.Failures)
		assert.Equal(t, tt.rps, exec.RequestsPerSecond)
		assert.Equal(t, tt.duration, exec.Duration)
		for _, r := range exec.Results {
			assert.Equal(t, "fibonacci", r.ProbeName)
			assert.Equal(t, 3, r.Load)
		}
	}
}

func TestDispatchCount(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		tests := []struct {
			rps      int
			duration time.Duration
			want     int
		}{
			{rps: 1 << 20, duration: 10 * time.Second, want: 10 << 20},
			{rps: 1 << 30, duration: 9 * time.Second, want: 9 << 30},
			{rps: 3, duration: 1500 * time.Millisecond, want: 4},
		}
		for _, tt := range tests {
			n, err := dispatchCount(tt.rps, tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n, "%d rps for %s", tt.rps, tt.duration)
		}
	})

	t.Run("too many requests", func(t *testing.T) {
		_, err := dispatchCount(math.MaxInt, time.Duration(math.MaxInt64))
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("tick offsets", func(t *testing.T) {
		assert.Equal(t, 1500*time.Millisecond, offset(3, 2))
		assert.Equal(t, 9*time.Second, offset(9<<30, 1<<30))
	})
}

func TestExecutor_ZeroDurationIsEmpty(t *testing.T) {
	exec, err := NewExecutor().Execute(context.Background(), &sleepProbe{name: "p"}, 10, 0, 5)

	require.NoError(t, err)
	assert.Equal(t, 5, exec.Load())
	_, err = exec.AvgResponseTime()
	assert.ErrorIs(t, err, ErrEmptyResultSet)
}

func TestExecutor_OneFailureDoesNotAbortOthers(t *testing.T) {
	// Arrange
	probe := &sleepProbe{name: "fibonacci", latency: 10 * time.Millisecond, failCall: 3}

	// Act
	exec, err := NewExecutor().Execute(context.Background(), probe, 100, 100*time.Millisecond, 2)

	// Assert
	require.NoError(t, err)
	assert.Len(t, exec.Results, 9)
	require.Len(t, exec.Failures, 1)

	var probeErr *ProbeError
	require.ErrorAs(t, exec.Failures[0], &probeErr)
	assert.Equal(t, "fibonacci", probeErr.Probe)
	assert.Equal(t, 2, probeErr.Load)
	assert.Contains(t, probeErr.Error(), "502 bad gateway")

	avg, err := exec.AvgResponseTime()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, avg, 10*time.Millisecond)
}

func TestExecutor_AbsoluteSchedule(t *testing.T) {
	probe := &sleepProbe{name: "p", latency: time.Millisecond}

	exec, err := NewExecutor().Execute(context.Background(), probe, 20, 500*time.Millisecond, 1)

	require.NoError(t, err)
	// the last of 10 ticks is due at start + 10/20s
	assert.GreaterOrEqual(t, exec.RequestSpan.Duration(), 490*time.Millisecond)
	assert.Less(t, exec.RequestSpan.Duration(), 700*time.Millisecond)
	assert.True(t, exec.RequestSpan.Start().Equal(exec.TotalSpan.Start()))
}

func TestExecutor_SlowProbeOverlapsInsteadOfStalling(t *testing.T) {
	probe := &sleepProbe{name: "slow", latency: 150 * time.Millisecond}

	exec, err := NewExecutor(WithLogger(zaptest.NewLogger(t))).
		Execute(context.Background(), probe, 100, 100*time.Millisecond, 1)

	require.NoError(t, err)
	assert.Len(t, exec.Results, 10)
	// dispatch finishes long before the tail of in-flight requests
	assert.Less(t, exec.RequestSpan.Duration(), 140*time.Millisecond)
	assert.GreaterOrEqual(t, exec.TotalSpan.Duration(), 150*time.Millisecond)
	assert.Greater(t, exec.TotalSpan.Duration(), exec.RequestSpan.Duration())
	assert.Greater(t, probe.peak.Load(), int64(5))
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	probe := &sleepProbe{name: "p", panics: true}

	exec, err := NewExecutor().Execute(context.Background(), probe, 100, 30*time.Millisecond, 1)

	require.NoError(t, err)
	assert.Empty(t, exec.Results)
	require.Len(t, exec.Failures, 3)
	assert.Contains(t, exec.Failures[0].Error(), "panic: probe exploded")

	_, err = exec.AvgResponseTime()
	var allFailed *AllFailedError
	assert.ErrorAs(t, err, &allFailed)
}

func TestExecutor_CancelStopsDispatch(t *testing.T) {
	probe := &sleepProbe{name: "p", latency: 20 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	started := time.Now()
	exec, err := NewExecutor().Execute(ctx, probe, 10, 10*time.Second, 1)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, exec)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, 1, exec.Requests())
	// the in-flight request was allowed to finish
	assert.Len(t, exec.Results, 1)
}

func TestExecutor_Metrics(t *testing.T) {
	m := metrics.New()
	probe := &sleepProbe{name: "bubble-sort", latency: time.Millisecond, failCall: 1}

	_, err := NewExecutor(WithMetrics(m)).Execute(context.Background(), probe, 100, 50*time.Millisecond, 10)

	require.NoError(t, err)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.ProbeInvocations.WithLabelValues("bubble-sort", metrics.OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProbeInvocations.WithLabelValues("bubble-sort", metrics.OutcomeFailure)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight.WithLabelValues("bubble-sort")))
}

func TestExecutor_Rerun(t *testing.T) {
	probe := &sleepProbe{name: "p", latency: time.Millisecond}
	e := NewExecutor()
	first, err := e.Execute(context.Background(), probe, 40, 100*time.Millisecond, 6)
	require.NoError(t, err)

	again, err := e.Rerun(context.Background(), first)

	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	assert.Equal(t, 6, again.Load())
	assert.Equal(t, 40, again.RequestsPerSecond)
	assert.Equal(t, first.Requests(), again.Requests())

	_, err = e.Rerun(context.Background(), &Execution{})
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}
