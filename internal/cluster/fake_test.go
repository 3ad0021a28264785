package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// fakeConnector hands out fakeHosts and can be told to fail
type fakeConnector struct {
	mu       sync.Mutex
	fail     map[string]error
	connects atomic.Int64
	hosts    map[string]*fakeHost
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		fail:  make(map[string]error),
		hosts: make(map[string]*fakeHost),
	}
}

func (f *fakeConnector) setFail(host string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, host)
		return
	}
	f.fail[host] = err
}

func (f *fakeConnector) Connect(ctx context.Context, host HostConfig) (HostClient, error) {
	f.connects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[host.Host]; err != nil {
		return nil, err
	}
	h := &fakeHost{name: host.Host, used: 100}
	f.hosts[host.Host] = h
	return h, nil
}

func (f *fakeConnector) host(name string) *fakeHost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosts[name]
}

type fakeHost struct {
	name     string
	used     float64
	closed   atomic.Bool
	closeErr error
	samples  atomic.Int64
}

func (h *fakeHost) Host() string { return h.name }

func (h *fakeHost) Sample(ctx context.Context) (HostSnapshot, error) {
	if h.closed.Load() {
		return HostSnapshot{}, errors.New("connection closed")
	}
	h.samples.Add(1)
	return HostSnapshot{
		Host:   h.name,
		Memory: Memory{Total: 1000, Used: h.used},
		CPU:    CPU{User: 25, Idle: 75},
	}, nil
}

func (h *fakeHost) Close() error {
	h.closed.Store(true)
	return h.closeErr
}

// scriptedMonitor fails a fixed number of times before delegating
type scriptedMonitor struct {
	failures atomic.Int64
	calls    atomic.Int64
	next     Monitor
}

func (m *scriptedMonitor) Sample(ctx context.Context, c *Cluster) (Snapshot, error) {
	m.calls.Add(1)
	if m.failures.Load() > 0 {
		m.failures.Add(-1)
		return Snapshot{}, errors.New("host unreachable")
	}
	return m.next.Sample(ctx, c)
}

func twoHostConfig() Config {
	return Config{
		Name: "lab",
		Hosts: []HostConfig{
			{Host: "node1", Port: 22, Username: "bench", Password: "secret"},
			{Host: "node2", Username: "bench", Password: "secret"},
		},
	}
}
