// internal/cluster/monitor.go
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Monitor takes one snapshot of a cluster
type Monitor interface {
	Sample(ctx context.Context, c *Cluster) (Snapshot, error)
}

// Collector samples every host of a cluster concurrently
type Collector struct {
	// Timeout bounds one full collection; zero means no limit
	Timeout time.Duration
}

// NewCollector creates a collector
func NewCollector(timeout time.Duration) *Collector {
	return &Collector{Timeout: timeout}
}

// Sample reads all hosts. Any host failure fails the whole snapshot.
func (m *Collector) Sample(ctx context.Context, c *Cluster) (Snapshot, error) {
	clients, err := c.Clients()
	if err != nil {
		return Snapshot{}, err
	}

	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	var mu sync.Mutex
	snap := Snapshot{
		Hosts:     make(map[string]HostSnapshot, len(clients)),
		Timestamp: time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			hs, err := client.Sample(gctx)
			if err != nil {
				return fmt.Errorf("sample %s: %w", client.Host(), err)
			}
			hs.Host = client.Host()
			mu.Lock()
			snap.Hosts[client.Host()] = hs
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
