package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/capscout/internal/cluster"
)

// BackgroundSampler records cluster snapshots until its context is cancelled.
// *cluster.Sampler implements it.
type BackgroundSampler interface {
	Run(ctx context.Context) ([]cluster.Snapshot, error)
}

// RunWhileMonitoring executes a trial while sampler runs alongside it. The
// sampler is stopped once every invocation has finished and its snapshots
// are attached to the execution.
//
// A monitoring failure does not discard the response-time data: the
// execution is returned together with an error wrapping the sampler's.
func RunWhileMonitoring(ctx context.Context, runner Runner, sampler BackgroundSampler, probe Probe,
	rps int, duration time.Duration, load int) (*Execution, error) {
	monitorCtx, stop := context.WithCancel(ctx)
	defer stop()

	type monitorResult struct {
		snaps []cluster.Snapshot
		err   error
	}
	done := make(chan monitorResult, 1)
	go func() {
		snaps, err := sampler.Run(monitorCtx)
		done <- monitorResult{snaps, err}
	}()

	exec, err := runner.Execute(ctx, probe, rps, duration, load)
	stop()
	mon := <-done

	if exec != nil {
		exec.ClusterSnapshots = mon.snaps
	}
	if err != nil {
		return exec, err
	}
	if mon.err != nil {
		return exec, fmt.Errorf("monitoring %s at load %d, %d rps: %w", probe.Name(), load, rps, mon.err)
	}
	return exec, nil
}

// RerunWhileMonitoring repeats exec's configuration under monitoring.
func RerunWhileMonitoring(ctx context.Context, runner Runner, sampler BackgroundSampler, exec *Execution) (*Execution, error) {
	if exec == nil || exec.Probe == nil {
		return nil, fmt.Errorf("%w: execution has no probe to rerun", ErrInvalidParameter)
	}
	return RunWhileMonitoring(ctx, runner, sampler, exec.Probe, exec.RequestsPerSecond, exec.Duration, exec.Load())
}
