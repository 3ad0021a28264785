package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/FairForge/capscout/internal/benchmark"
	"github.com/FairForge/capscout/internal/report"
	"github.com/FairForge/capscout/internal/storage"
	"github.com/spf13/cobra"
)

// Summarize stored benchmarks, or compare them at one load. Arguments are
// record files or keys in the configured store.
func reportCmd(a *app) *cobra.Command {
	var (
		load    int
		aliases map[string]string
		names   []string
		format  string
		latest  int
		list    bool
	)

	cmd := &cobra.Command{
		Use:   "report [FILE|KEY]...",
		Short: "Summarize stored benchmarks, or compare host usage across them with --load.",
		Long: `Summarize stored benchmarks, or compare host usage across them with --load.

Each argument is a record file or a key in the configured store; keys are
read from the storage path first and then from the S3 and Postgres mirrors.
--latest adds the newest stored benchmarks, --list prints the stored keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && latest == 0 && !list {
				return errors.New("report needs a file, a key, --latest or --list")
			}

			ctx, cancel := signalContext(a.logger)
			defer cancel()

			rs := &recordSource{a: a}
			defer rs.close()
			out := cmd.OutOrStdout()

			if list {
				return rs.list(ctx, cmd)
			}

			sources := append([]string(nil), args...)
			if latest > 0 {
				keys, err := rs.latest(ctx, latest)
				if err != nil {
					return err
				}
				sources = append(sources, keys...)
			}

			records := make([]benchmark.Record, 0, len(sources))
			for _, src := range sources {
				rec, err := rs.read(ctx, src)
				if err != nil {
					return err
				}
				records = append(records, rec)
			}

			if cmd.Flags().Changed("load") {
				cmp := report.Compare(records, names, load, aliases)
				return report.WriteComparison(out, format, cmp)
			}

			for i, rec := range records {
				if format == report.FormatTable {
					fmt.Fprintf(out, "%s (%s, cluster %s)\n", sources[i], rec.TestCaseName, rec.Cluster.Name)
				}
				if err := report.WriteLoads(out, format, report.Analyze(rec)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&load, "load", 0, "Compare host usage of all records at this load.")
	cmd.Flags().StringToStringVar(&aliases, "alias", nil, "Host aliases for comparison, e.g. 10.0.0.6=app.")
	cmd.Flags().StringSliceVar(&names, "names", nil, "Labels for the records in a comparison.")
	cmd.Flags().StringVar(&format, "format", report.FormatTable, "Output format: table, csv or json.")
	cmd.Flags().IntVar(&latest, "latest", 0, "Also report the newest N stored benchmarks.")
	cmd.Flags().BoolVar(&list, "list", false, "List the stored record keys, oldest first.")
	return cmd
}

// recordSource reads records from files, opening the store only when a key
// has to be resolved
type recordSource struct {
	a       *app
	store   *storage.Store
	cleanup func()
}

func (r *recordSource) open(ctx context.Context) (*storage.Store, error) {
	if r.store != nil {
		return r.store, nil
	}
	store, cleanup, err := r.a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	r.store, r.cleanup = store, cleanup
	return store, nil
}

func (r *recordSource) close() {
	if r.cleanup != nil {
		r.cleanup()
	}
}

func (r *recordSource) read(ctx context.Context, src string) (benchmark.Record, error) {
	var rec benchmark.Record
	if _, err := os.Stat(src); err == nil {
		err := storage.ReadFile(src, &rec)
		return rec, err
	}
	if storage.KindOf(src) != storage.KindBenchmark {
		return rec, fmt.Errorf("%w: %s is neither a file nor a benchmark key", storage.ErrNotFound, src)
	}

	store, err := r.open(ctx)
	if err != nil {
		return rec, err
	}
	err = store.Load(ctx, src, &rec)
	return rec, err
}

func (r *recordSource) latest(ctx context.Context, n int) ([]string, error) {
	store, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := store.Latest(ctx, storage.KindBenchmark, n)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no stored benchmarks", storage.ErrNotFound)
	}
	return keys, nil
}

func (r *recordSource) list(ctx context.Context, cmd *cobra.Command) error {
	store, err := r.open(ctx)
	if err != nil {
		return err
	}
	for _, kind := range []storage.Kind{storage.KindBenchmark, storage.KindExecution} {
		keys, err := store.List(ctx, kind)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", kind, key)
		}
	}
	return nil
}
