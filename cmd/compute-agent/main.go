// Package main is the entry point for the compute agent binary.
// The agent loads the datasets named by its manifest into an in-memory or
// DuckDB backend and executes signed workflow requests over HTTP and,
// optionally, gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vizflow/internal/agent"
	"vizflow/internal/config"
	"vizflow/internal/middleware"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("dotenv: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	router, closeRouter, err := newRouter(ctx, cfg)
	defer closeRouter()
	if err != nil {
		return err
	}
	datasets, err := loadDatasets(ctx, cfg, router, logger)
	if err != nil {
		return fmt.Errorf("datasets: %w", err)
	}
	backend, closeBackend, err := newBackend(ctx, cfg, datasets, logger)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer closeBackend() //nolint:errcheck
	logger.Info("backend ready", "backend", backend.Name(), "datasets", len(datasets))

	startTime := time.Now()
	metrics := middleware.NewMetrics()

	handler := agent.NewHandler(ctx, agent.HandlerConfig{
		Backend:    backend,
		AgentToken: cfg.AgentToken,
		StartTime:  startTime,
		Logger:     logger,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSAllowedOrigins,
		MaxSkew:     cfg.SignatureMaxSkew,
		Metrics:     metrics,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("compute agent listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCListenAddr != "" {
		grpcSrv := agent.NewGRPCServer(agent.GRPCConfig{
			Backend:    backend,
			AgentToken: cfg.AgentToken,
			StartTime:  startTime,
			Logger:     logger,
			MaxSkew:    cfg.SignatureMaxSkew,
			Metrics:    metrics,
		})
		lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error {
			logger.Info("compute agent gRPC listening", "addr", cfg.GRPCListenAddr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	// SIGHUP re-reads the manifest.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reloadDatasets(gctx, cfg, router, backend, logger)
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down agent")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
