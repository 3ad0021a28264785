// Package benchmark combines the load and throughput searches into a full
// capacity benchmark of one or more probes against a monitored cluster.
package benchmark

import (
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/google/uuid"
)

// ErrNoExecutions is returned when a benchmark would be empty
var ErrNoExecutions = errors.New("benchmark has no executions")

// Phase names the orchestration step that failed
type Phase string

const (
	PhaseDryRun           Phase = "dry-run"
	PhaseLoadSearch       Phase = "load-search"
	PhaseThroughputSearch Phase = "throughput-search"
	PhaseRerun            Phase = "rerun"
	PhaseMonitoring       Phase = "monitoring"
)

// PhaseError reports where a benchmark failed. Partial holds the monitored
// reruns finished before the failure, plus the failing rerun when it still
// collected response times.
type PhaseError struct {
	Phase   Phase
	Probe   string
	Load    int
	Rate    int
	Err     error
	Partial []*loadtest.Execution
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("benchmark %s: %s failed at load %d, %d rps: %v", e.Probe, e.Phase, e.Load, e.Rate, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Benchmark is the ordered set of monitored executions for one probe, one per
// discovered (load, rate) pair, highest load first.
type Benchmark struct {
	ID           uuid.UUID
	ProbeName    string
	ClusterName  string
	ClusterHosts []string
	Executions   []*loadtest.Execution
	CreatedAt    time.Time
	Partial      bool // Built from the reruns kept before a failure
}

// New builds a benchmark; it refuses an empty execution list
func New(probe, clusterName string, hosts []string, executions []*loadtest.Execution) (*Benchmark, error) {
	if len(executions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutions, probe)
	}
	execs := make([]*loadtest.Execution, len(executions))
	copy(execs, executions)
	h := make([]string, len(hosts))
	copy(h, hosts)

	return &Benchmark{
		ID:           uuid.New(),
		ProbeName:    probe,
		ClusterName:  clusterName,
		ClusterHosts: h,
		Executions:   execs,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
