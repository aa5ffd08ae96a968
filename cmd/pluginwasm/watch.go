package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nanoem/pluginwasm/wasmplugin"
)

type watchConfig struct {
	metricsAddr string
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	cfg := &watchConfig{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep plugins loaded and reload them as files change",
		Long: `Load the plugin directory, reload plugins whose files are written,
drop plugins whose files are removed and serve Prometheus metrics until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, g, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9464", "metrics listen address, empty to disable")

	return cmd
}

func runWatch(cmd *cobra.Command, g *globalFlags, cfg *watchConfig) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := wasmplugin.NewMetrics(registry)

	pcfg, err := g.config()
	if err != nil {
		return err
	}
	pcfg.Watch = true
	c, err := wasmplugin.NewControllerFromConfig(ctx, pcfg, wasmplugin.WithLogger(logger), wasmplugin.WithMetrics(metrics))
	if err != nil {
		return err
	}
	// Teardown runs on a fresh context; ctx is already done by then.
	defer func() { err = multierr.Append(err, closeController(context.Background(), c)) }()

	if err := c.Initialize(ctx); err != nil {
		return err
	}
	if err := c.Create(ctx); err != nil {
		return err
	}

	if cfg.metricsAddr != "" {
		srv, err := serveMetrics(cfg.metricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("error stopping metrics server", zap.Error(err))
			}
		}()
	}

	logger.Info("watching plugins", zap.String("dir", pcfg.Dir), zap.Int("count", c.Len()))
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("metrics server started", zap.String("addr", listener.Addr().String()))
	return srv, nil
}
