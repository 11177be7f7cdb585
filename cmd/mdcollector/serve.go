package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/mdcollector/internal/adminhttp"
	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/observability"
	"github.com/sawpanic/mdcollector/internal/supervisor"
)

func serveCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the collector: connect upstream, normalize, publish, and broadcast",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return runServe(ctx, path)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := "info"
	if cfg.Service.Environment == "development" {
		logLevel = "debug"
	}
	logger := observability.NewLogger(logLevel, "mdcollector")
	metrics := observability.InitializeMetrics()

	sup, err := supervisor.Initialize(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("initialize supervisor: %w", err)
	}
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	admin := adminhttp.NewServer(sup, metrics.Registry)
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port)
	httpServer := &http.Server{Addr: addr, Handler: admin.Handler()}

	go func() {
		logger.Info().Str("addr", addr).Msg("admin http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err := sup.Stop(shutdownCtx, 10*time.Second); err != nil {
		logger.Error().Err(err).Msg("supervisor stop error")
	}
	sup.Destroy()
	return nil
}
