package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/FairForge/capscout/internal/targetapp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Serve the sample application that the probes exercise.
func serveTargetCmd(a *app) *cobra.Command {
	var (
		addr       string
		serviceURL string
	)

	cmd := &cobra.Command{
		Use:   "serve-target",
		Short: "Serve the fibonacci and bubble-sort workloads.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := targetapp.DefaultConfig()
			cfg.ServiceURL = serviceURL
			srv := &http.Server{
				Addr:              addr,
				Handler:           targetapp.New(cfg, targetapp.WithLogger(a.logger)).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := signalContext(a.logger)
			defer cancel()
			a.serveMetrics(ctx)

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("shutdown error", zap.Error(err))
				}
			}()

			a.logger.Info("target app listening", zap.String("addr", addr), zap.String("serviceURL", serviceURL))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":3000", "Listen address.")
	cmd.Flags().StringVar(&serviceURL, "service-url", "", "Base URL the fibonacci endpoint fans out to. Empty computes in-process.")
	return cmd
}
