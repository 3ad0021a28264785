// Package cluster tracks the monitored hosts of a system under test and
// samples their resource usage while benchmarks run.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClusterDisabled is returned when a disabled cluster is asked for its hosts
var ErrClusterDisabled = errors.New("cluster is disabled")

// HostConfig describes how to reach one monitored host
type HostConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Address returns host:port, defaulting to the SSH port
func (h HostConfig) Address() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return h.Host + ":" + strconv.Itoa(port)
}

// Config is everything needed to (re)build a cluster handle
type Config struct {
	Name  string
	Hosts []HostConfig
}

// HostClient is a live connection to one monitored host
type HostClient interface {
	Host() string
	Sample(ctx context.Context) (HostSnapshot, error)
	Close() error
}

// Connector opens host connections
type Connector interface {
	Connect(ctx context.Context, host HostConfig) (HostClient, error)
}

// State of the cluster handle
type State int

const (
	StateActive   State = iota // Hosts connected, sampling allowed
	StateDisabled              // Monitoring failed, must be reconstructed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Cluster is a handle on the monitored hosts. It only moves from Disabled
// back to Active through Reconstruct.
type Cluster struct {
	mu sync.RWMutex

	config    Config
	connector Connector
	clients   []HostClient
	state     State
	cause     error

	logger *zap.Logger
}

// Option configures a cluster
type Option func(*Cluster)

// WithLogger adds logging
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cluster) {
		c.logger = logger
	}
}

// Connect opens a connection to every configured host
func Connect(ctx context.Context, cfg Config, connector Connector, opts ...Option) (*Cluster, error) {
	c := &Cluster{
		config:    cfg,
		connector: connector,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	clients, err := c.connectAll(ctx)
	if err != nil {
		return nil, err
	}
	c.clients = clients
	c.state = StateActive

	c.logger.Info("cluster connected",
		zap.String("cluster", cfg.Name),
		zap.Int("hosts", len(clients)))
	return c, nil
}

func (c *Cluster) connectAll(ctx context.Context) ([]HostClient, error) {
	clients := make([]HostClient, len(c.config.Hosts))

	g, gctx := errgroup.WithContext(ctx)
	for i, host := range c.config.Hosts {
		i, host := i, host
		g.Go(func() error {
			client, err := c.connector.Connect(gctx, host)
			if err != nil {
				return fmt.Errorf("connect %s: %w", host.Address(), err)
			}
			clients[i] = client
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if cerr := closeAll(clients); cerr != nil {
			c.logger.Warn("failed to close partial connections", zap.Error(cerr))
		}
		return nil, err
	}
	return clients, nil
}

// Name returns the cluster identifier
func (c *Cluster) Name() string {
	return c.config.Name
}

// Hosts returns the configured host names
func (c *Cluster) Hosts() []string {
	hosts := make([]string, 0, len(c.config.Hosts))
	for _, h := range c.config.Hosts {
		hosts = append(hosts, h.Host)
	}
	return hosts
}

// State returns the current state
func (c *Cluster) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Cause returns the error that disabled the cluster, if any
func (c *Cluster) Cause() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

// Clients returns the live host connections
func (c *Cluster) Clients() ([]HostClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == StateDisabled {
		return nil, fmt.Errorf("%w: %s", ErrClusterDisabled, c.config.Name)
	}
	out := make([]HostClient, len(c.clients))
	copy(out, c.clients)
	return out, nil
}

// Disable drops every host connection and marks the cluster unusable until
// the next Reconstruct.
func (c *Cluster) Disable(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisabled {
		return
	}
	if err := closeAll(c.clients); err != nil {
		c.logger.Debug("errors closing hosts while disabling", zap.Error(err))
	}
	c.clients = nil
	c.state = StateDisabled
	c.cause = cause

	c.logger.Warn("cluster disabled",
		zap.String("cluster", c.config.Name),
		zap.Error(cause))
}

// Reconstruct rebuilds the host connections from the stored configuration.
// On failure the cluster stays disabled.
func (c *Cluster) Reconstruct(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateActive {
		if err := closeAll(c.clients); err != nil {
			c.logger.Debug("errors closing hosts before reconstruct", zap.Error(err))
		}
	}
	c.clients = nil
	c.state = StateDisabled

	clients, err := c.connectAll(ctx)
	if err != nil {
		c.cause = err
		return fmt.Errorf("reconstruct cluster %s: %w", c.config.Name, err)
	}

	c.clients = clients
	c.state = StateActive
	c.cause = nil

	c.logger.Info("cluster reconstructed", zap.String("cluster", c.config.Name))
	return nil
}

// Close releases every host connection
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := closeAll(c.clients)
	c.clients = nil
	c.state = StateDisabled
	c.cause = errors.New("cluster closed")
	return err
}

func closeAll(clients []HostClient) error {
	var result *multierror.Error
	for _, client := range clients {
		if client == nil {
			continue
		}
		if err := client.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", client.Host(), err))
		}
	}
	return result.ErrorOrNil()
}
