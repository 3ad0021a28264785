package benchmark

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/loadtest"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type stubProbe struct {
	name string
	min  int
}

func (p stubProbe) Name() string { return p.name }

func (p stubProbe) MinLoad() int { return p.min }

func (p stubProbe) Run(ctx context.Context, load int) (loadtest.ProbeResult, error) {
	return loadtest.ProbeResult{}, errors.New("stubProbe is not runnable")
}

type trialCall struct {
	rps  int
	load int
}

// costRunner models latency = load*perLoad + rps*perRequest without waiting
type costRunner struct {
	perLoad    time.Duration
	perRequest time.Duration

	mu    sync.Mutex
	calls []trialCall
}

func (r *costRunner) Execute(ctx context.Context, probe loadtest.Probe, rps int, duration time.Duration, load int) (*loadtest.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, trialCall{rps: rps, load: load})
	r.mu.Unlock()

	lat := time.Duration(load)*r.perLoad + time.Duration(rps)*r.perRequest
	reqSpan, _ := loadtest.NewTimespan(epoch, epoch.Add(lat))
	srvSpan, _ := loadtest.NewTimespan(epoch, epoch.Add(lat/2))

	exec := &loadtest.Execution{
		Probe:             probe,
		ProbeName:         probe.Name(),
		RequestedLoad:     load,
		RequestsPerSecond: rps,
		Duration:          duration,
	}
	n := int(int64(rps) * int64(duration) / int64(time.Second))
	for i := 0; i < n; i++ {
		exec.Results = append(exec.Results, loadtest.ProbeResult{
			ProbeName:   probe.Name(),
			Load:        load,
			RequestSpan: reqSpan,
			ServerSpan:  srvSpan,
		})
	}
	return exec, nil
}

func (r *costRunner) trials() []trialCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]trialCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// hookedRunner calls hook with the 1-based trial number before delegating
// to the cost model; a hook error fails the trial
type hookedRunner struct {
	*costRunner
	n    atomic.Int64
	hook func(ctx context.Context, trial int) error
}

func (r *hookedRunner) Execute(ctx context.Context, probe loadtest.Probe, rps int, duration time.Duration, load int) (*loadtest.Execution, error) {
	if err := r.hook(ctx, int(r.n.Add(1))); err != nil {
		return nil, err
	}
	return r.costRunner.Execute(ctx, probe, rps, duration, load)
}

// cutNetworkAt breaks the lab at trial and holds that trial long enough for
// the sampler to give up
func cutNetworkAt(conn *labConnector, trial int) func(context.Context, int) error {
	return func(ctx context.Context, n int) error {
		if n != trial {
			return nil
		}
		conn.broken.Store(true)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return nil
		}
	}
}

type labConnector struct {
	broken atomic.Bool
}

func (c *labConnector) Connect(ctx context.Context, host cluster.HostConfig) (cluster.HostClient, error) {
	return &labHost{name: host.Host, connector: c}, nil
}

type labHost struct {
	name      string
	connector *labConnector
}

func (h *labHost) Host() string { return h.name }

func (h *labHost) Sample(ctx context.Context) (cluster.HostSnapshot, error) {
	if h.connector.broken.Load() {
		return cluster.HostSnapshot{}, errors.New("no route to host")
	}
	return cluster.HostSnapshot{
		Host:   h.name,
		Memory: cluster.Memory{Total: 2048, Used: 512},
		CPU:    cluster.CPU{User: 40, Idle: 60},
	}, nil
}

func (h *labHost) Close() error { return nil }

func labConfig() cluster.Config {
	return cluster.Config{
		Name: "lab",
		Hosts: []cluster.HostConfig{
			{Host: "node1", Username: "bench"},
			{Host: "node2", Username: "bench"},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Threshold = time.Second
	cfg.Duration = time.Second
	cfg.RestTime = 0
	cfg.Sampler = cluster.SamplerConfig{
		Interval:   5 * time.Millisecond,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}
	return cfg
}
