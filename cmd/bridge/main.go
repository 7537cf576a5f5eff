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
	"golang.org/x/sync/errgroup"

	"ingestbridge/internal/bridge"
	"ingestbridge/internal/config"
	"ingestbridge/internal/ingest"
	"ingestbridge/internal/logging"
	"ingestbridge/internal/server"
	"ingestbridge/internal/telemetry"
	"ingestbridge/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	host := flag.String("host", cfg.Host, "bind host")
	port := flag.Int("port", cfg.Port, "bind port")
	flag.Parse()
	cfg.Host, cfg.Port = *host, *port

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("Bridge exited", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, version.Service, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warnw("Tracing shutdown", "error", err)
		}
	}()

	hc := &http.Client{}
	b, err := bridge.New(cfg,
		ingest.NewProber(cfg.Ingest, cfg.Timeouts.ProbeAttempt, hc, logger.Named("prober")),
		ingest.NewResolver(cfg.Ingest, cfg.Timeouts.Metadata, hc, logger.Named("fallback")),
		logger.Named("bridge"),
	)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer b.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(b, logger.Named("http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("Ingest bridge listening", "addr", "http://"+srv.Addr, "version", version.String(), "ingest", cfg.Ingest.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		b.Report(ctx, cfg.StatsInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Infow("Shutting down", "sessions", b.Sessions())
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
