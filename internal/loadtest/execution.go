package loadtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/FairForge/capscout/internal/cluster"
	"github.com/google/uuid"
)

// Execution is one trial of a probe at a fixed load, rate and duration.
// It is not modified after the executor or search returns it.
type Execution struct {
	ID                uuid.UUID
	Probe             Probe
	ProbeName         string
	RequestedLoad     int
	RequestsPerSecond int
	Duration          time.Duration

	TotalSpan   Timespan // dispatch start to last completion
	RequestSpan Timespan // the dispatch loop only

	Results  []ProbeResult
	Failures []error

	// Snapshots sampled while a monitored run was in flight, in sample order
	ClusterSnapshots []cluster.Snapshot
}

// Load returns the load shared by the results, or the requested load when
// there are none.
func (e *Execution) Load() int {
	if len(e.Results) > 0 {
		return e.Results[0].Load
	}
	return e.RequestedLoad
}

// Requests returns the number of dispatched invocations.
func (e *Execution) Requests() int {
	return len(e.Results) + len(e.Failures)
}

// HasErrors reports whether any invocation failed.
func (e *Execution) HasErrors() bool {
	return len(e.Failures) > 0
}

// checkResults distinguishes "some results" from "only failures" from "nothing".
func (e *Execution) checkResults() error {
	if len(e.Results) > 0 {
		return nil
	}
	if len(e.Failures) > 0 {
		return &AllFailedError{Failures: len(e.Failures), First: e.Failures[0]}
	}
	return fmt.Errorf("%w: %s at load %d, %d rps produced no requests",
		ErrEmptyResultSet, e.ProbeName, e.RequestedLoad, e.RequestsPerSecond)
}

// AvgResponseTime is the mean client-observed response time over the
// successful invocations.
func (e *Execution) AvgResponseTime() (time.Duration, error) {
	if err := e.checkResults(); err != nil {
		return 0, err
	}
	var total time.Duration
	for _, r := range e.Results {
		total += r.ResponseTime()
	}
	return total / time.Duration(len(e.Results)), nil
}

// AvgServerProcessingTime is the mean server-reported processing time.
func (e *Execution) AvgServerProcessingTime() (time.Duration, error) {
	if err := e.checkResults(); err != nil {
		return 0, err
	}
	var total time.Duration
	for _, r := range e.Results {
		total += r.ServerProcessingTime()
	}
	return total / time.Duration(len(e.Results)), nil
}

// AverageSnapshot averages the monitored snapshots per host.
func (e *Execution) AverageSnapshot() (cluster.Snapshot, bool) {
	return cluster.Average(e.ClusterSnapshots)
}

// Summary aggregates response-time statistics for an execution.
type Summary struct {
	ProbeName          string
	Load               int
	RequestsPerSecond  int
	TotalRequests      int
	SuccessCount       int
	FailureCount       int
	ErrorRate          float64
	AchievedRPS        float64
	MinLatency         time.Duration
	MaxLatency         time.Duration
	AvgLatency         time.Duration
	P50Latency         time.Duration
	P95Latency         time.Duration
	P99Latency         time.Duration
	AvgServerLatency   time.Duration
	SecondsDispatching float64
	TotalSeconds       float64
}

// Summary computes latency percentiles and rates.
func (e *Execution) Summary() Summary {
	s := Summary{
		ProbeName:          e.ProbeName,
		Load:               e.Load(),
		RequestsPerSecond:  e.RequestsPerSecond,
		TotalRequests:      e.Requests(),
		SuccessCount:       len(e.Results),
		FailureCount:       len(e.Failures),
		SecondsDispatching: e.RequestSpan.Seconds(),
		TotalSeconds:       e.TotalSpan.Seconds(),
	}

	if s.TotalRequests > 0 {
		s.ErrorRate = float64(s.FailureCount) / float64(s.TotalRequests)
	}
	if s.SecondsDispatching > 0 {
		s.AchievedRPS = float64(s.TotalRequests) / s.SecondsDispatching
	}

	if len(e.Results) > 0 {
		latencies := make([]time.Duration, len(e.Results))
		for i, r := range e.Results {
			latencies[i] = r.ResponseTime()
		}
		s.MinLatency, s.MaxLatency, s.AvgLatency,
			s.P50Latency, s.P95Latency, s.P99Latency = calculatePercentiles(latencies)
		s.AvgServerLatency, _ = e.AvgServerProcessingTime()
	}

	return s
}

// calculatePercentiles computes latency statistics.
func calculatePercentiles(latencies []time.Duration) (min, max, avg, p50, p95, p99 time.Duration) {
	if len(latencies) == 0 {
		return
	}

	// Sort a copy so the caller's order is kept
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	avg = total / time.Duration(len(sorted))

	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[len(sorted)*95/100]
	p99 = sorted[len(sorted)*99/100]

	return
}
