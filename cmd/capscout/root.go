package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/capscout/internal/cluster"
	"github.com/FairForge/capscout/internal/config"
	"github.com/FairForge/capscout/internal/metrics"
	"github.com/FairForge/capscout/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries what every subcommand needs once flags are parsed
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func rootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "capscout",
		Short: "capscout finds how much load a web application can take.",
		Long: `capscout finds how much load a web application can take.

For each probe it searches the heaviest per-request load the application can
serve within a response-time threshold, then the highest request rate it can
sustain at that load and at a few lighter ones, while sampling CPU and memory
on the monitored hosts over SSH.

Settings are read from a YAML or JSON file passed with --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Path to the configuration file.")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level.")

	cmd.AddCommand(
		benchmarkCmd(a),
		executeCmd(a),
		reportCmd(a),
		serveTargetCmd(a),
	)
	return cmd
}

// init loads the configuration. A missing default file falls back to the
// built-in defaults; a missing file named with --config is an error.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return err
		}
		cfg = config.Default()
		config.LoadFromEnv(cfg)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.metrics = metrics.New()
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-ctx.Done():
		case sig := <-sigChan:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
		}
	}()
	return ctx, cancel
}

// openStore writes to the storage path and mirrors to S3 and Postgres when
// they are configured. The returned func releases the backends.
func (a *app) openStore(ctx context.Context) (*storage.Store, func(), error) {
	sc := a.cfg.Storage
	primary, err := storage.NewFileBackend(sc.Path)
	if err != nil {
		return nil, nil, err
	}

	var mirrors []storage.Backend
	closers := []func(){}
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if sc.S3.Bucket != "" {
		s3Backend, err := storage.NewS3Backend(ctx, sc.S3, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("s3 store: %w", err)
		}
		mirrors = append(mirrors, s3Backend)
		a.logger.Info("archiving results to s3", zap.String("bucket", sc.S3.Bucket))
	}
	if sc.Postgres.DSN != "" {
		pg, err := storage.OpenPostgres(ctx, sc.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		mirrors = append(mirrors, pg)
		closers = append(closers, func() { _ = pg.Close() })
		a.logger.Info("archiving results to postgres")
	}

	var backend storage.Backend = primary
	if len(mirrors) > 0 {
		backend = storage.NewMultiBackend(primary, mirrors...)
	}
	a.logger.Info("using local storage", zap.String("path", primary.Dir()), zap.Bool("compress", sc.Compress))

	store := storage.New(backend,
		storage.WithCompression(sc.Compress),
		storage.WithLogger(a.logger))
	return store, cleanup, nil
}

// connectCluster opens SSH connections to every monitored host
func (a *app) connectCluster(ctx context.Context) (*cluster.Cluster, error) {
	connector, err := cluster.NewSSHConnector(a.cfg.SSH.KnownHostsFile, a.cfg.SSH.Timeout.D(), a.logger)
	if err != nil {
		return nil, err
	}
	c, err := cluster.Connect(ctx, a.cfg.ClusterConfig(), connector, cluster.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("connect cluster %s: %w", a.cfg.App.Name, err)
	}
	return c, nil
}

func (a *app) newMonitor() cluster.Monitor {
	return cluster.NewCollector(a.cfg.SSH.Timeout.D())
}

// serveMetrics exposes /metrics until ctx is done
func (a *app) serveMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}

	r := chi.NewRouter()
	r.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
