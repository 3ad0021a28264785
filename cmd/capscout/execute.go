package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FairForge/capscout/internal/benchmark"
	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/FairForge/capscout/internal/probes"
	"github.com/FairForge/capscout/internal/report"
	"github.com/FairForge/capscout/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Run a single monitored execution at a fixed load and rate and store it.
func executeCmd(a *app) *cobra.Command {
	var (
		probeName string
		load      int
		rps       int
		duration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run one probe at a fixed load and rate while monitoring the cluster.",
		Long:  "Run one probe at a fixed load and rate while monitoring the cluster.\n\n" + probeHelp(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("duration") {
				duration = a.cfg.Benchmark.DurationPerTest.D()
			}

			probe, err := probes.New(probeName, a.cfg.App.URL, a.cfg.ProbeOptions()...)
			if err != nil {
				return err
			}

			a.logger.Info("running probe", zap.String("probe", probe.Name()), zap.String("description", probe.Description()))

			ctx, cancel := signalContext(a.logger)
			defer cancel()
			a.serveMetrics(ctx)

			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			c, err := a.connectCluster(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			sampler := cluster.NewSampler(c, a.newMonitor(), a.cfg.BenchmarkSettings().Sampler,
				cluster.WithSamplerLogger(a.logger),
				cluster.WithSamplerMetrics(a.metrics))
			executor := loadtest.NewExecutor(loadtest.WithLogger(a.logger), loadtest.WithMetrics(a.metrics))

			exec, err := loadtest.RunWhileMonitoring(ctx, executor, sampler, probe, rps, duration, load)
			if exec == nil {
				return err
			}
			if err != nil && !errors.Is(err, cluster.ErrMonitoringFailure) {
				return err
			}
			if err != nil {
				a.logger.Warn("execution finished without complete monitoring", zap.Error(err))
			}

			rec := benchmark.NewExecutionRecord(exec)
			key, saveErr := store.Save(ctx, storage.KindExecution, rec)
			if saveErr != nil && key == "" {
				return saveErr
			}
			if saveErr != nil {
				a.logger.Warn("execution stored locally only", zap.String("key", key), zap.Error(saveErr))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", probe.Name(), key)

			rows := report.Analyze(benchmark.Record{TestExecutions: []benchmark.ExecutionRecord{rec}})
			if werr := report.WriteLoads(cmd.OutOrStdout(), report.FormatTable, rows); werr != nil {
				return werr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&probeName, "probe", probes.FibonacciName, fmt.Sprintf("Probe to run, one of %v.", probes.Names()))
	cmd.Flags().IntVar(&load, "load", 1, "Per-request load.")
	cmd.Flags().IntVar(&rps, "rps", 1, "Requests per second.")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Length of the execution. Default: benchmark.durationPerTest.")
	return cmd
}

// probeHelp lists the registered probes and what they exercise
func probeHelp() string {
	var b strings.Builder
	b.WriteString("Probes:\n")
	for _, name := range probes.Names() {
		p, err := probes.New(name, "")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "  %-12s %s\n", name, p.Description())
	}
	return b.String()
}
