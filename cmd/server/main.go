// Command server starts the retail recommendation HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/retail-reco/internal/adapter/httpserver"
	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/app"
	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/service/factory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, recommendation, and cache instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// The factory owns every service singleton and the degradation policy
	// between the live KV store and the embedded fallback.
	ctx := context.Background()
	f := factory.New(cfg)
	f.Start(ctx)

	srv := httpserver.NewServer(cfg, f.Orchestrator(ctx), f.Products(ctx), f.Events(ctx), f.Inventory(ctx))
	srv.KVCheck, srv.ContentCheck, srv.EventsCheck = app.BuildReadinessChecks(f.KV(ctx), f.Content(ctx), f.Events(ctx))

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	f.Shutdown(shutdownCtx)
}
