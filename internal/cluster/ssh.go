// internal/cluster/ssh.go
package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const pingCount = 3

// SSHConnector opens password-authenticated SSH sessions to monitored hosts
type SSHConnector struct {
	timeout         time.Duration
	hostKeyCallback ssh.HostKeyCallback
	logger          *zap.Logger
}

// NewSSHConnector creates a connector. When knownHostsFile is empty host keys
// are not verified.
func NewSSHConnector(knownHostsFile string, timeout time.Duration, logger *zap.Logger) (*SSHConnector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	callback := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		callback = cb
	} else {
		logger.Warn("ssh host keys will not be verified")
	}

	return &SSHConnector{
		timeout:         timeout,
		hostKeyCallback: callback,
		logger:          logger,
	}, nil
}

// Connect dials the host and authenticates
func (c *SSHConnector) Connect(ctx context.Context, host HostConfig) (HostClient, error) {
	cfg := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(host.Password)},
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.timeout,
	}

	addr := host.Address()
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	c.logger.Debug("connected to host", zap.String("host", addr))
	return &sshHost{
		name:   host.Host,
		client: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

type sshHost struct {
	name   string
	client *ssh.Client

	mu      sync.Mutex
	prevCPU cpuTimes
	hasPrev bool
}

func (h *sshHost) Host() string {
	return h.name
}

func (h *sshHost) Close() error {
	return h.client.Close()
}

// Sample reads memory, CPU and latency. CPU is the share since the previous
// sample on this connection, or since boot on the first one.
func (h *sshHost) Sample(ctx context.Context) (HostSnapshot, error) {
	freeOut, err := h.run(ctx, "free -b")
	if err != nil {
		return HostSnapshot{}, fmt.Errorf("free: %w", err)
	}
	mem, err := parseFree(freeOut)
	if err != nil {
		return HostSnapshot{}, err
	}

	statOut, err := h.run(ctx, "cat /proc/stat")
	if err != nil {
		return HostSnapshot{}, fmt.Errorf("proc stat: %w", err)
	}
	cur, err := parseProcStat(statOut)
	if err != nil {
		return HostSnapshot{}, err
	}

	ping, err := h.ping(ctx)
	if err != nil {
		return HostSnapshot{}, fmt.Errorf("ping: %w", err)
	}

	h.mu.Lock()
	prev := h.prevCPU
	if !h.hasPrev {
		prev = cpuTimes{}
	}
	h.prevCPU = cur
	h.hasPrev = true
	h.mu.Unlock()

	return HostSnapshot{
		Host:      h.name,
		Memory:    mem,
		CPU:       cpuPercent(prev, cur),
		Ping:      ping,
		Timestamp: time.Now(),
	}, nil
}

func (h *sshHost) run(ctx context.Context, cmd string) (string, error) {
	session, err := h.client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return string(r.out), r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ping measures round trips of a keepalive request over the open connection
func (h *sshHost) ping(ctx context.Context) (Ping, error) {
	rtts := make([]float64, 0, pingCount)
	for i := 0; i < pingCount; i++ {
		if ctx.Err() != nil {
			return Ping{}, ctx.Err()
		}
		start := time.Now()
		// servers reply with failure to unknown requests, which still proves liveness
		if _, _, err := h.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			return Ping{}, err
		}
		rtts = append(rtts, float64(time.Since(start).Microseconds())/1000)
	}
	if len(rtts) == 0 {
		return Ping{}, errors.New("no round trips measured")
	}

	sort.Float64s(rtts)
	var sum float64
	for _, r := range rtts {
		sum += r
	}
	return Ping{
		Min: rtts[0],
		Avg: sum / float64(len(rtts)),
		Max: rtts[len(rtts)-1],
	}, nil
}
