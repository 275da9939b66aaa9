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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"usenetstreamer/pkg/api"
	"usenetstreamer/pkg/env"
	"usenetstreamer/pkg/fallback"
	"usenetstreamer/pkg/initialization"
	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/metrics"
	"usenetstreamer/pkg/proxy"
	"usenetstreamer/pkg/server"
	"usenetstreamer/pkg/stream"
	"usenetstreamer/pkg/streamcache"
	"usenetstreamer/pkg/telemetry"
	"usenetstreamer/pkg/web"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	// Load environment variables for logger and bootstrap
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	// Initialize Logger early so bootstrap can use it
	logger.Init(env.LogLevel())
	defer logger.Close()

	logger.Info("Starting UsenetStreamer", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "usenetstreamer")
	if err != nil {
		logger.Warn("Tracing disabled", "err", err)
	}

	// Bootstrap application
	comp, err := initialization.Bootstrap(ctx)
	if err != nil {
		initialization.WaitForInputAndExit(err)
	}
	defer comp.Close()

	cfg := comp.Config
	if err := server.CheckPort(cfg.AddonPort); err != nil {
		initialization.WaitForInputAndExit(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	apiServer := api.NewServer(cfg, comp.Queue)
	preparer := stream.NewPreparer(comp.Queue, comp.Poller, comp.Resolver, cfg.PollTimeout(), apiServer)
	cache := streamcache.New(comp.Store, cfg.CacheTTL())

	failureVideo := fallback.New(cfg.FailureVideoPath)
	if !failureVideo.Available() {
		logger.Warn("Failure video not found, failed streams will get JSON errors", "path", failureVideo.Path())
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Preparer: preparer,
		Cache:    cache,
		Proxy:    proxy.New(comp.Files, cfg.StreamHighWaterMark),
		Fallback: failureVideo,
		API:      apiServer.Handler(),
		Web:      web.Handler(),
		Gatherer: registry,
		Version:  Version,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AddonPort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	base := cfg.AddonBaseURL
	if cfg.SecurityToken != "" {
		base += "/" + cfg.SecurityToken
	}
	logger.Info("Stream endpoint", "url", base+"/nzb/stream")
	logger.Info("Dashboard", "url", base+"/")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			initialization.WaitForInputAndExit(fmt.Errorf("server failed: %w", err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "err", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown", "err", err)
		}
	}
}
