package loadtest

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/FairForge/capscout/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Runner executes a probe at a fixed rate for a fixed duration.
type Runner interface {
	Execute(ctx context.Context, probe Probe, rps int, duration time.Duration, load int) (*Execution, error)
}

// Executor dispatches probe invocations on an absolute schedule. Invocation i
// is due at start + i/rps; a late tick fires immediately, so a slow target
// piles up concurrent requests instead of lowering the rate.
type Executor struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	behind  rate.Sometimes
}

// ExecutorOption configures an executor
type ExecutorOption func(*Executor)

// WithLogger adds logging
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records invocation outcomes
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: zap.NewNop(),
		behind: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs floor(rps * duration) invocations of probe at load and waits
// for all of them. Failed invocations are collected, never retried.
//
// Cancelling ctx stops dispatching further ticks; invocations already in
// flight still run to completion. The partial execution is returned together
// with the context error.
func (e *Executor) Execute(ctx context.Context, probe Probe, rps int, duration time.Duration, load int) (*Execution, error) {
	if probe == nil {
		return nil, fmt.Errorf("%w: nil probe", ErrInvalidParameter)
	}
	if rps <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive, got %d", ErrInvalidParameter, rps)
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative, got %s", ErrInvalidParameter, duration)
	}

	n, err := dispatchCount(rps, duration)
	if err != nil {
		return nil, err
	}
	name := probe.Name()
	tick := time.Second / time.Duration(rps)

	exec := &Execution{
		ID:                uuid.New(),
		Probe:             probe,
		ProbeName:         name,
		RequestedLoad:     load,
		RequestsPerSecond: rps,
		Duration:          duration,
	}

	// in-flight invocations outlive a cancelled dispatch loop
	probeCtx := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, n)
	dispatched := 0
	var interrupted error
	var wg sync.WaitGroup

	start := time.Now()

dispatch:
	for i := 1; i <= n; i++ {
		target := start.Add(offset(i, rps))

		if wait := time.Until(target); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				interrupted = ctx.Err()
				break dispatch
			case <-timer.C:
			}
		} else {
			if ctx.Err() != nil {
				interrupted = ctx.Err()
				break dispatch
			}
			if -wait > tick {
				e.behind.Do(func() {
					e.logger.Warn("executor behind schedule",
						zap.String("probe", name),
						zap.Int("rps", rps),
						zap.Int("tick", i),
						zap.Duration("lag", -wait))
				})
			}
		}

		wg.Add(1)
		e.metrics.ProbeStarted(name)
		go func(idx int) {
			defer wg.Done()
			outcomes[idx] = e.invoke(probeCtx, probe, load, idx+1)
		}(i - 1)
		dispatched++
	}

	dispatchEnd := time.Now()
	wg.Wait()
	end := time.Now()

	exec.RequestSpan = spanBetween(start, dispatchEnd)
	exec.TotalSpan = spanBetween(start, end)
	exec.Results, exec.Failures = partition(outcomes[:dispatched])

	e.logger.Debug("execution finished",
		zap.String("probe", name),
		zap.Int("load", load),
		zap.Int("rps", rps),
		zap.Int("requests", dispatched),
		zap.Int("failures", len(exec.Failures)),
		zap.Duration("dispatch", exec.RequestSpan.Duration()),
		zap.Duration("total", exec.TotalSpan.Duration()))

	if interrupted != nil {
		return exec, fmt.Errorf("execution of %s interrupted after %d of %d requests: %w",
			name, dispatched, n, interrupted)
	}
	return exec, nil
}

// invoke runs one probe call and tags the outcome
func (e *Executor) invoke(ctx context.Context, probe Probe, load, index int) (out Outcome) {
	name := probe.Name()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: &ProbeError{Probe: name, Load: load, Index: index, Err: fmt.Errorf("panic: %v", r)}}
		}
		e.metrics.ProbeFinished(name, time.Since(started), out.Err)
	}()

	res, err := probe.Run(ctx, load)
	if err != nil {
		return Outcome{Err: &ProbeError{Probe: name, Load: load, Index: index, Err: err}}
	}
	if res.ProbeName == "" {
		res.ProbeName = name
	}
	return Outcome{Result: res}
}

// Rerun repeats an execution's probe, load, rate and duration.
func (e *Executor) Rerun(ctx context.Context, exec *Execution) (*Execution, error) {
	if exec == nil || exec.Probe == nil {
		return nil, fmt.Errorf("%w: execution has no probe to rerun", ErrInvalidParameter)
	}
	return e.Execute(ctx, exec.Probe, exec.RequestsPerSecond, exec.Duration, exec.Load())
}

// dispatchCount is floor(rps * duration), the number of ticks in a run
func dispatchCount(rps int, duration time.Duration) (int, error) {
	hi, lo := bits.Mul64(uint64(rps), uint64(duration))
	if hi >= uint64(time.Second) {
		return 0, fmt.Errorf("%w: %d rps for %s is too many requests", ErrInvalidParameter, rps, duration)
	}
	n, _ := bits.Div64(hi, lo, uint64(time.Second))
	if n > math.MaxInt {
		return 0, fmt.Errorf("%w: %d rps for %s is too many requests", ErrInvalidParameter, rps, duration)
	}
	return int(n), nil
}

// offset is when tick i is due, i/rps seconds after the start
func offset(i, rps int) time.Duration {
	whole := time.Duration(i/rps) * time.Second
	return whole + time.Duration(int64(i%rps)*int64(time.Second)/int64(rps))
}
