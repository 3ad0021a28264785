package main

import (
	"fmt"
	"time"

	"github.com/FairForge/capscout/internal/benchmark"
	"github.com/FairForge/capscout/internal/config"
	"github.com/FairForge/capscout/internal/loadtest"
	"github.com/FairForge/capscout/internal/probes"
	"github.com/FairForge/capscout/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Run the full capacity benchmark for each probe and store one record per
// probe. Benchmarks that finished before a failure are still stored.
func benchmarkCmd(a *app) *cobra.Command {
	var (
		probeNames      []string
		maxResponseTime time.Duration
		durationPerTest time.Duration
		maxLoads        int
		minRPS          int
		restTime        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Find the capacity of the application for each probe.",
		Long:  "Find the capacity of the application for each probe.\n\n" + probeHelp(),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc := &a.cfg.Benchmark
			flags := cmd.Flags()
			if flags.Changed("probes") {
				bc.Probes = probeNames
			}
			overrideDuration(cmd, "max-response-time", maxResponseTime, &bc.MaxResponseTime)
			overrideDuration(cmd, "duration-per-test", durationPerTest, &bc.DurationPerTest)
			overrideDuration(cmd, "rest-time", restTime, &bc.RestTime)
			if flags.Changed("max-loads") {
				bc.MaxLoadsToTest = maxLoads
			}
			if flags.Changed("min-rps") {
				bc.MinRequestsPerSecond = minRPS
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext(a.logger)
			defer cancel()
			a.serveMetrics(ctx)

			selected, err := probes.NewAll(bc.Probes, a.cfg.App.URL, a.cfg.ProbeOptions()...)
			if err != nil {
				return err
			}
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

			executor := loadtest.NewExecutor(loadtest.WithLogger(a.logger), loadtest.WithMetrics(a.metrics))
			orch, err := benchmark.NewOrchestrator(executor, a.newMonitor(), a.cfg.BenchmarkSettings(),
				benchmark.WithLogger(a.logger),
				benchmark.WithMetrics(a.metrics))
			if err != nil {
				return err
			}

			benchmarks, runErr := orch.Run(ctx, selected, c)
			complete := 0
			for _, b := range benchmarks {
				if !b.Partial {
					complete++
				}
				key, err := store.Save(ctx, storage.KindBenchmark, b.Record())
				if err != nil && key == "" {
					a.logger.Error("failed to store benchmark", zap.String("probe", b.ProbeName), zap.Error(err))
					continue
				}
				if err != nil {
					a.logger.Warn("benchmark stored locally only", zap.String("key", key), zap.Error(err))
				}
				label := b.ProbeName
				if b.Partial {
					label += " (partial)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", label, key)
				printCapacity(cmd, b)
			}
			if runErr != nil {
				return fmt.Errorf("benchmark stopped after %d of %d probes: %w", complete, len(selected), runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&probeNames, "probes", nil, fmt.Sprintf("Probes to run, any of %v. Default: all.", probes.Names()))
	cmd.Flags().DurationVar(&maxResponseTime, "max-response-time", 0, "Highest acceptable average response time.")
	cmd.Flags().DurationVar(&durationPerTest, "duration-per-test", 0, "Length of every trial.")
	cmd.Flags().DurationVar(&restTime, "rest-time", 0, "Idle time before each monitored rerun.")
	cmd.Flags().IntVar(&maxLoads, "max-loads", 0, "Number of load levels to measure per probe.")
	cmd.Flags().IntVar(&minRPS, "min-rps", 0, "Request rate used while searching the load.")
	return cmd
}

func overrideDuration(cmd *cobra.Command, flag string, value time.Duration, target *config.Duration) {
	if cmd.Flags().Changed(flag) {
		*target = config.Duration(value)
	}
}

func printCapacity(cmd *cobra.Command, b *benchmark.Benchmark) {
	for _, exec := range b.Executions {
		s := exec.Summary()
		fmt.Fprintf(cmd.OutOrStdout(), "  load %d: %d rps, avg %s, p95 %s, %d errors\n",
			s.Load, s.RequestsPerSecond, s.AvgLatency, s.P95Latency, s.FailureCount)
	}
}
