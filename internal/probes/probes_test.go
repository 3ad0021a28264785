package probes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/FairForge/capscout/internal/targetapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(targetapp.New(targetapp.DefaultConfig()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestFibonacci_Run(t *testing.T) {
	ts := newTarget(t)
	p := NewFibonacci(ts.URL + "/")

	res, err := p.Run(context.Background(), 15)

	require.NoError(t, err)
	assert.Equal(t, FibonacciName, res.ProbeName)
	assert.Equal(t, 15, res.Load)
	assert.Greater(t, res.ResponseTime(), time.Duration(0))
	assert.GreaterOrEqual(t, res.ServerProcessingTime(), time.Duration(0))
	assert.Equal(t, 1, p.MinLoad())
}

func TestBubbleSort_Run(t *testing.T) {
	ts := newTarget(t)
	p := NewBubbleSort(ts.URL)

	url, err := p.URL(10)
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/bubble-sort?n=1024", url)

	res, err := p.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, BubbleSortName, res.ProbeName)
	assert.Equal(t, 10, p.MinLoad())

	_, err = p.Run(context.Background(), 31)
	assert.Error(t, err)
}

func TestProbe_Errors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		ts := newTarget(t)
		// above the target's fibonacci limit
		_, err := NewFibonacci(ts.URL).Run(context.Background(), 1000)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	})

	payloads := map[string]string{
		"not json":         `<html>oops</html>`,
		"missing end":      `{"start":"2026-01-01T00:00:00Z"}`,
		"bad instant":      `{"start":"yesterday","end":"2026-01-01T00:00:00Z"}`,
		"end before start": `{"start":"2026-01-01T00:00:01Z","end":"2026-01-01T00:00:00Z"}`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			}))
			defer ts.Close()

			_, err := NewFibonacci(ts.URL).Run(context.Background(), 3)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}

	t.Run("connection refused", func(t *testing.T) {
		_, err := NewFibonacci("http://127.0.0.1:1", WithTimeout(time.Second)).Run(context.Background(), 3)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrMalformedResponse))
	})
}

func TestParseServerSpan_ZonelessInstants(t *testing.T) {
	span, err := parseServerSpan([]byte(`{"start":"2026-01-01T10:00:00.250000","fibonacci":5,"end":"2026-01-01T10:00:01"}`))

	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, span.Duration())
	assert.Equal(t, time.UTC, span.Start().Location())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{BubbleSortName, FibonacciName}, Names())

	p, err := New(FibonacciName, "http://target")
	require.NoError(t, err)
	assert.Equal(t, FibonacciName, p.Name())
	assert.NotEmpty(t, p.Description())

	_, err = New("quicksort", "http://target")
	assert.ErrorIs(t, err, ErrUnknownProbe)

	all, err := NewAll(nil, "http://target")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	var _ loadtest.Probe = p
	var _ loadtest.MinLoader = p
}

func TestProbe_ThroughExecutor(t *testing.T) {
	ts := newTarget(t)

	exec, err := loadtest.NewExecutor().Execute(context.Background(), NewFibonacci(ts.URL), 40, 100*time.Millisecond, 10)

	require.NoError(t, err)
	assert.Len(t, exec.Results, 4)
	assert.Empty(t, exec.Failures)
	_, err = exec.AvgServerProcessingTime()
	assert.NoError(t, err)
}
