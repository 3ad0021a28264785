// Package loadtest runs workload probes at a fixed request rate and searches
// for the highest load and rate an application sustains while its average
// response time stays under a threshold.
//
// # Overview
//
// The package has three layers:
//
//   - Executor: dispatches a probe at a fixed rate for a fixed duration
//   - Searcher: finds the highest rate (FindMaxRate) or load (FindMaxLoad)
//     under a response-time threshold
//   - RunWhileMonitoring: reruns a configuration while a cluster sampler
//     records resource usage
//
// # Executor
//
// Invocation i of a run is due at start + i/rps. Ticks are computed from the
// start instant, not from the previous dispatch, so scheduling error does not
// accumulate. When the loop falls behind, late ticks fire immediately and the
// extra requests overlap; the rate is never lowered to match a slow target.
//
//	exec, err := loadtest.NewExecutor(loadtest.WithLogger(logger)).
//	    Execute(ctx, probe, 50, 30*time.Second, 20)
//	avg, err := exec.AvgResponseTime()
//
// A failed invocation never aborts its siblings. It is recorded in
// Execution.Failures as a *ProbeError.
//
// # Throughput Search
//
// FindMaxRate doubles the rate from 2^StartPower until the average response
// time exceeds the threshold, then binary-searches the bracket
// [2^(p-1), 2^p] using the upper midpoint. Among every trial below the
// threshold, the one with the largest average is kept.
//
//	searcher := loadtest.NewSearcher(executor)
//	best, err := searcher.FindMaxRate(ctx, probe, 20, 30*time.Second,
//	    2*time.Second, loadtest.DefaultRateSearchConfig())
//
// # Load Search
//
// FindMaxLoad raises the load one increment at a time at a fixed rate and
// returns the last trial under the threshold.
//
// # Errors
//
//   - ErrInvalidParameter: non-positive rate or negative duration
//   - ErrSearchExhausted: no answer within the search limits
//   - ErrEmptyResultSet: average requested over zero results; *AllFailedError
//     when every invocation failed
//   - *ProbeError: a single failed invocation
package loadtest
