package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/web"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the import UI and run scheduled ticks (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, *envFile)
		},
	}
}

func runServe(cmd *cobra.Command, envFile string) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := web.NewServer(web.Options{
		Service:   a.service,
		Config:    cfg,
		Gatherer:  a.registry,
		RateStore: a.rateStore,
		Health:    a.health,
	})

	// Background jobs stop with the signal context.
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		a.scheduler.Run(ctx, a.runner.Tick)
	}()
	if cfg.Janitor.Enabled {
		go a.service.StartJanitor(ctx, core.JanitorConfig{
			Retention:     cfg.Janitor.Retention,
			CheckInterval: cfg.Janitor.Interval,
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.Server.Addr())
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-jobsDone
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Wait for active uploads to complete (with timeout)
	if status := a.service.UploadLimiterStatus(); status.Active > 0 {
		logger.Info("waiting for uploads to complete", "active", status.Active)
		if err := a.service.WaitForUploads(shutdownCtx); err != nil {
			logger.Warn("uploads did not complete in time", "error", err)
		} else {
			logger.Info("all uploads completed")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	select {
	case <-jobsDone:
	case <-shutdownCtx.Done():
		logger.Warn("ticks still running at shutdown")
	}
	return nil
}
