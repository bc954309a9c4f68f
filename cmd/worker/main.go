package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/signflow/internal/bootstrap"
	"github.com/kirillkom/signflow/internal/config"
	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/usecase"
	"github.com/kirillkom/signflow/internal/observability/logging"
	"github.com/kirillkom/signflow/internal/observability/metrics"
	"github.com/kirillkom/signflow/internal/observability/tracing"
)

const (
	service      = "worker"
	workerActor  = "finalize-worker"
	finalizeWait = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker_exit", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger(service, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: "signflow-worker",
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	workerMetrics := metrics.NewWorkerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, workerMetrics.Registry())
	if err != nil {
		return err
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if app.Events != nil {
		g.Go(func() error {
			slog.Info("worker_subscribed", "event", domain.EventFinalizeRequested, "prefix", cfg.NATSSubjectPrefix)
			return app.Events.SubscribeFinalizeRequested(gctx, func(handlerCtx context.Context, requestID string) error {
				finalizeCtx, cancel := context.WithTimeout(handlerCtx, finalizeWait)
				defer cancel()
				workerMetrics.StartJob()
				started := time.Now()
				_, err := app.Finalizer.FinalizeRetry(finalizeCtx, requestID, workerActor)
				workerMetrics.FinishJob(service, "event", time.Since(started), err)
				return err
			})
		})
	}

	g.Go(func() error {
		slog.Info("finalize_sweeper_started",
			"interval", cfg.FinalizeSweepInterval.String(),
			"batch", cfg.FinalizeSweepBatch,
		)
		return app.Sweeper.Run(gctx, cfg.FinalizeSweepInterval,
			func(found int) {
				workerMetrics.ObserveSweep(service, found)
			},
			func(job usecase.SweepJob) {
				workerMetrics.StartJob()
				workerMetrics.FinishJob(service, "sweep", job.Duration, job.Err)
				if job.Request.CompletedAt != nil {
					workerMetrics.ObserveFinalizeLag(service, time.Since(*job.Request.CompletedAt))
				}
			},
		)
	})

	return g.Wait()
}
