package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/signflow/internal/adapters/http"
	"github.com/kirillkom/signflow/internal/bootstrap"
	"github.com/kirillkom/signflow/internal/config"
	"github.com/kirillkom/signflow/internal/observability/logging"
	"github.com/kirillkom/signflow/internal/observability/metrics"
	"github.com/kirillkom/signflow/internal/observability/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api_exit", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger("api", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: "signflow-api",
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return err
	}

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, httpMetrics.Registry())
	if err != nil {
		return err
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, httpadapter.Services{
		Submitter:   app.Submitter,
		Queue:       app.SignerQ,
		Finalizer:   app.Finalizer,
		Duplicates:  app.Duplicates,
		Verifier:    app.Verifier,
		Status:      app.Status,
		Audit:       app.Audit,
		Content:     app.Status,
		Idempotency: app.Idempotency,
		Metrics:     httpMetrics,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return err
	}
	if cfg.APIMaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.APIMaxConnections)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "addr", ln.Addr().String(), "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err.Error())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing_shutdown_error", "error", err.Error())
	}
	return nil
}
