package loadtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/capscout/internal/cluster"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// sleepProbe waits a fixed latency per call and can fail selected calls
type sleepProbe struct {
	name     string
	latency  time.Duration
	failCall int64 // 1-based call number that fails, 0 for none
	panics   bool

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (p *sleepProbe) Name() string { return p.name }

func (p *sleepProbe) Run(ctx context.Context, load int) (ProbeResult, error) {
	call := p.calls.Add(1)
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	if p.panics {
		panic("probe exploded")
	}

	start := time.Now()
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return ProbeResult{}, ctx.Err()
	}
	end := time.Now()

	if call == p.failCall {
		return ProbeResult{}, errors.New("502 bad gateway")
	}
	return ProbeResult{
		Load:        load,
		RequestSpan: spanBetween(start, end),
		ServerSpan:  spanBetween(start, start.Add(p.latency/2)),
	}, nil
}

// namedProbe is only identified, never run; the model runner fakes its results
type namedProbe struct {
	name string
	min  int
}

func (p namedProbe) Name() string { return p.name }

func (p namedProbe) MinLoad() int { return p.min }

func (p namedProbe) Run(ctx context.Context, load int) (ProbeResult, error) {
	return ProbeResult{}, errors.New("namedProbe is not runnable")
}

type runnerCall struct {
	rps  int
	load int
}

// modelRunner produces executions whose latency is a pure function of rate
// and load, without waiting
type modelRunner struct {
	latency func(call, rps, load int) time.Duration
	allFail func(call, rps, load int) bool
	err     func(call, rps, load int) error
	empty   bool

	mu    sync.Mutex
	calls []runnerCall
}

func (m *modelRunner) Execute(ctx context.Context, probe Probe, rps int, duration time.Duration, load int) (*Execution, error) {
	m.mu.Lock()
	call := len(m.calls) + 1
	m.calls = append(m.calls, runnerCall{rps: rps, load: load})
	m.mu.Unlock()

	if m.err != nil {
		if err := m.err(call, rps, load); err != nil {
			return nil, err
		}
	}

	exec := &Execution{
		Probe:             probe,
		ProbeName:         probe.Name(),
		RequestedLoad:     load,
		RequestsPerSecond: rps,
		Duration:          duration,
	}
	if m.empty {
		return exec, nil
	}

	n := int(int64(rps) * int64(duration) / int64(time.Second))
	if m.allFail != nil && m.allFail(call, rps, load) {
		for i := 0; i < n; i++ {
			exec.Failures = append(exec.Failures, &ProbeError{Probe: probe.Name(), Load: load, Index: i + 1, Err: errors.New("timeout")})
		}
		return exec, nil
	}

	lat := m.latency(call, rps, load)
	for i := 0; i < n; i++ {
		exec.Results = append(exec.Results, ProbeResult{
			ProbeName:   probe.Name(),
			Load:        load,
			RequestSpan: spanBetween(epoch, epoch.Add(lat)),
			ServerSpan:  spanBetween(epoch, epoch.Add(lat/2)),
		})
	}
	return exec, nil
}

func (m *modelRunner) rates() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.rps
	}
	return out
}

func (m *modelRunner) loads() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.load
	}
	return out
}

// linearInRate models latency = rps * step
func linearInRate(step time.Duration) func(call, rps, load int) time.Duration {
	return func(call, rps, load int) time.Duration {
		return time.Duration(rps) * step
	}
}

// tickingSampler emits a snapshot every interval until cancelled
type tickingSampler struct {
	interval time.Duration
	failWith error
}

func (s *tickingSampler) Run(ctx context.Context) ([]cluster.Snapshot, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	var snaps []cluster.Snapshot
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		snaps = append(snaps, cluster.Snapshot{
			Timestamp: time.Now(),
			Hosts: map[string]cluster.HostSnapshot{
				"node1": {Host: "node1", Memory: cluster.Memory{Used: float64(100 * (len(snaps) + 1))}},
			},
		})
		select {
		case <-ctx.Done():
			return snaps, nil
		case <-ticker.C:
		}
	}
}
