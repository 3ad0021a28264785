package benchmark

import (
	"time"

	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/loadtest"
)

// ClusterRecord identifies the cluster a benchmark ran against
type ClusterRecord struct {
	Name    string   `json:"name"`
	Servers []string `json:"servers"`
}

// ResultRecord is one successful request
type ResultRecord struct {
	Load                 int               `json:"load"`
	RequestSpan          loadtest.Timespan `json:"request_span"`
	ServerProcessingSpan loadtest.Timespan `json:"server_processing_span"`
}

// ExecutionRecord is the stored form of an execution. Averages are in
// seconds and null when the execution has no results.
type ExecutionRecord struct {
	ID                      string            `json:"id,omitempty"`
	TestCase                string            `json:"test_case"`
	Load                    int               `json:"load"`
	AvgResponseTime         *float64          `json:"avg_response_time"`
	AvgServerProcessingTime *float64          `json:"avg_server_processing_time"`
	RequestPerSecond        int               `json:"request_per_second"`
	SecondsMakingRequests   float64           `json:"seconds_making_requests"`
	SpanMakingRequests      loadtest.Timespan `json:"span_making_requests"`
	TotalSpan               loadtest.Timespan `json:"total_span"`
	Errors                  []string          `json:"errors"`
	ClusterStats            *cluster.Snapshot `json:"cluster_stats"`
	Samples                 int               `json:"cluster_samples"`
	Results                 []ResultRecord    `json:"results,omitempty"`
}

// Record is the stored form of a benchmark
type Record struct {
	ID             string            `json:"id,omitempty"`
	TestExecutions []ExecutionRecord `json:"test_executions"`
	TestCaseName   string            `json:"test_case_name"`
	Cluster        ClusterRecord     `json:"cluster"`
	CreatedAt      time.Time         `json:"created_at"`
	Partial        bool              `json:"partial,omitempty"`
}

// NewExecutionRecord converts an execution
func NewExecutionRecord(exec *loadtest.Execution) ExecutionRecord {
	rec := ExecutionRecord{
		ID:                    exec.ID.String(),
		TestCase:              exec.ProbeName,
		Load:                  exec.Load(),
		RequestPerSecond:      exec.RequestsPerSecond,
		SecondsMakingRequests: exec.Duration.Seconds(),
		SpanMakingRequests:    exec.RequestSpan,
		TotalSpan:             exec.TotalSpan,
		Errors:                make([]string, 0, len(exec.Failures)),
		Samples:               len(exec.ClusterSnapshots),
		Results:               make([]ResultRecord, 0, len(exec.Results)),
	}

	if avg, err := exec.AvgResponseTime(); err == nil {
		secs := avg.Seconds()
		rec.AvgResponseTime = &secs
	}
	if avg, err := exec.AvgServerProcessingTime(); err == nil {
		secs := avg.Seconds()
		rec.AvgServerProcessingTime = &secs
	}
	for _, f := range exec.Failures {
		rec.Errors = append(rec.Errors, f.Error())
	}
	if snap, ok := exec.AverageSnapshot(); ok {
		rec.ClusterStats = &snap
	}
	for _, r := range exec.Results {
		rec.Results = append(rec.Results, ResultRecord{
			Load:                 r.Load,
			RequestSpan:          r.RequestSpan,
			ServerProcessingSpan: r.ServerSpan,
		})
	}
	return rec
}

// Record converts the benchmark for storage
func (b *Benchmark) Record() Record {
	rec := Record{
		ID:             b.ID.String(),
		TestExecutions: make([]ExecutionRecord, 0, len(b.Executions)),
		TestCaseName:   b.ProbeName,
		Cluster:        ClusterRecord{Name: b.ClusterName, Servers: b.ClusterHosts},
		CreatedAt:      b.CreatedAt,
		Partial:        b.Partial,
	}
	for _, exec := range b.Executions {
		rec.TestExecutions = append(rec.TestExecutions, NewExecutionRecord(exec))
	}
	return rec
}

// ServerProcessingTimes returns each result's server-reported duration
func (r ExecutionRecord) ServerProcessingTimes() []time.Duration {
	out := make([]time.Duration, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.ServerProcessingSpan.Duration()
	}
	return out
}
