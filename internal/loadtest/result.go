package loadtest

import (
	"context"
	"time"
)

// Probe issues one unit of work against the application under test.
type Probe interface {
	Name() string
	Run(ctx context.Context, load int) (ProbeResult, error)
}

// MinLoader is implemented by probes with a smallest meaningful load.
type MinLoader interface {
	MinLoad() int
}

// ProbeResult is the outcome of one successful probe invocation.
type ProbeResult struct {
	ProbeName   string
	Load        int
	RequestSpan Timespan // observed by the caller
	ServerSpan  Timespan // reported by the server
}

// ResponseTime is the client-observed duration.
func (r ProbeResult) ResponseTime() time.Duration {
	return r.RequestSpan.Duration()
}

// ServerProcessingTime is the server-reported duration.
func (r ProbeResult) ServerProcessingTime() time.Duration {
	return r.ServerSpan.Duration()
}

// Outcome is either a result or the error that replaced it.
type Outcome struct {
	Result ProbeResult
	Err    error
}

// OK reports whether the invocation succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// partition splits a batch into successes and failures.
func partition(outcomes []Outcome) ([]ProbeResult, []error) {
	results := make([]ProbeResult, 0, len(outcomes))
	var failures []error
	for _, o := range outcomes {
		if o.OK() {
			results = append(results, o.Result)
		} else {
			failures = append(failures, o.Err)
		}
	}
	return results, failures
}

func minLoad(p Probe) int {
	if ml, ok := p.(MinLoader); ok && ml.MinLoad() > 0 {
		return ml.MinLoad()
	}
	return 1
}
