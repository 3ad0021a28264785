// Package probes implements HTTP workload probes against the target application.
package probes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/FairForge/capscout/internal/loadtest"
)

var (
	// ErrUnexpectedStatus is returned for any non-200 response
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrMalformedResponse is returned when the payload lacks a valid server span
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnknownProbe is returned by New for an unregistered name
	ErrUnknownProbe = errors.New("unknown probe")
)

// DefaultTimeout bounds a single probe request
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 1 << 20

// HTTPProbe issues one GET per invocation and reads the server-reported
// processing span from the JSON body.
type HTTPProbe struct {
	name        string
	description string
	minLoad     int
	baseURL     string
	path        func(load int) (string, error)
	client      *http.Client
}

// Option configures a probe
type Option func(*HTTPProbe)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPProbe) {
		p.client = client
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProbe) {
		p.client = &http.Client{Timeout: d, Transport: p.client.Transport}
	}
}

func newHTTPProbe(name, description string, minLoad int, baseURL string,
	path func(int) (string, error), opts ...Option) *HTTPProbe {
	p := &HTTPProbe{
		name:        name,
		description: description,
		minLoad:     minLoad,
		baseURL:     strings.TrimRight(baseURL, "/"),
		path:        path,
		client:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the probe identifier
func (p *HTTPProbe) Name() string { return p.name }

// Description says what the probe exercises
func (p *HTTPProbe) Description() string { return p.description }

// MinLoad is the smallest load worth testing
func (p *HTTPProbe) MinLoad() int { return p.minLoad }

// URL returns the request URL for a load
func (p *HTTPProbe) URL(load int) (string, error) {
	path, err := p.path(load)
	if err != nil {
		return "", err
	}
	return p.baseURL + path, nil
}

type spanPayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Run performs one request at load
func (p *HTTPProbe) Run(ctx context.Context, load int) (loadtest.ProbeResult, error) {
	url, err := p.URL(load)
	if err != nil {
		return loadtest.ProbeResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return loadtest.ProbeResult{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return loadtest.ProbeResult{}, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	end := time.Now()
	if err != nil {
		return loadtest.ProbeResult{}, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return loadtest.ProbeResult{}, fmt.Errorf("%w: GET %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode)
	}

	serverSpan, err := parseServerSpan(body)
	if err != nil {
		return loadtest.ProbeResult{}, fmt.Errorf("GET %s: %w", url, err)
	}
	requestSpan, err := loadtest.NewTimespan(start, end)
	if err != nil {
		return loadtest.ProbeResult{}, err
	}

	return loadtest.ProbeResult{
		ProbeName:   p.name,
		Load:        load,
		RequestSpan: requestSpan,
		ServerSpan:  serverSpan,
	}, nil
}

func parseServerSpan(body []byte) (loadtest.Timespan, error) {
	var payload spanPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return loadtest.Timespan{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Start == "" || payload.End == "" {
		return loadtest.Timespan{}, fmt.Errorf("%w: missing start or end", ErrMalformedResponse)
	}

	start, err := parseInstant(payload.Start)
	if err != nil {
		return loadtest.Timespan{}, fmt.Errorf("%w: start: %v", ErrMalformedResponse, err)
	}
	end, err := parseInstant(payload.End)
	if err != nil {
		return loadtest.Timespan{}, fmt.Errorf("%w: end: %v", ErrMalformedResponse, err)
	}

	span, err := loadtest.NewTimespan(start, end)
	if err != nil {
		return loadtest.Timespan{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return span, nil
}

// instants without a zone are read as UTC
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseInstant(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range instantLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Constructor builds a probe against a base URL
type Constructor func(baseURL string, opts ...Option) *HTTPProbe

var registry = map[string]Constructor{
	FibonacciName:  NewFibonacci,
	BubbleSortName: NewBubbleSort,
}

// New builds the named probe
func New(name, baseURL string, opts ...Option) (*HTTPProbe, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProbe, name, strings.Join(Names(), ", "))
	}
	return ctor(baseURL, opts...), nil
}

// NewAll builds every named probe, or all registered probes when names is empty
func NewAll(names []string, baseURL string, opts ...Option) ([]loadtest.Probe, error) {
	if len(names) == 0 {
		names = Names()
	}
	out := make([]loadtest.Probe, 0, len(names))
	for _, name := range names {
		p, err := New(name, baseURL, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Names lists the registered probes in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
