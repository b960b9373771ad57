// Package main wires together the keepalive service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kholt/instance-keepalive/internal/api"
	"github.com/kholt/instance-keepalive/internal/browser"
	"github.com/kholt/instance-keepalive/internal/clock/system"
	"github.com/kholt/instance-keepalive/internal/config"
	idgen "github.com/kholt/instance-keepalive/internal/id/uuid"
	"github.com/kholt/instance-keepalive/internal/logging"
	"github.com/kholt/instance-keepalive/internal/metrics"
	"github.com/kholt/instance-keepalive/internal/runner"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	if cfg.Auth.Token == "" {
		logger.Warn("no auth token configured; every trigger will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	keepAliveURL := ""
	if cfg.KeepAlive.Enabled {
		keepAliveURL = cfg.KeepAlive.URL
		if keepAliveURL == "" {
			// Default to our own liveness probe; the platform only needs to
			// see traffic, not a particular destination.
			keepAliveURL = fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
		}
	}

	chrome := browser.NewChromedp(browser.Config{
		UserAgent: cfg.Visit.UserAgent,
	}, logger.Named("browser"))

	run := runner.New(
		chrome,
		system.New(),
		idgen.New(),
		runner.Config{
			Token:             cfg.Auth.Token,
			DefaultURL:        cfg.Visit.DefaultURL,
			Stay:              cfg.StayDuration(),
			NavTimeout:        cfg.NavTimeout(),
			LaunchTimeout:     cfg.LaunchTimeout(),
			KeepAliveURL:      keepAliveURL,
			KeepAliveInterval: cfg.PingInterval(),
			KeepAliveTimeout:  cfg.PingTimeout(),
		},
		logger.Named("runner"),
	)

	apiServer := api.NewServer(run, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	// An in-flight visit finishes on its own schedule; never cut a
	// navigation or stay short.
	logger.Info("waiting for in-flight visit to finish")
	if err := run.Wait(context.Background()); err != nil {
		logger.Error("visit drain error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
