package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avolkov/docvault/internal/bootstrap"
	"github.com/avolkov/docvault/internal/config"
	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/observability/logging"
	"github.com/avolkov/docvault/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.WatchdogSchedule, func() {
		count, err := app.Repo.FailStuckProcessing(ctx, cfg.ProcessingTimeout)
		if err != nil {
			logger.Error("watchdog sweep failed", "error", err)
			return
		}
		if count > 0 {
			workerMetrics.RecordStuckTracks(count)
			logger.Warn("watchdog failed stuck tracks", "count", count)
		}
	}); err != nil {
		log.Fatalf("schedule watchdog: %v", err)
	}
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		outcomes, err := app.TriggerUC.TriggerPending(ctx)
		if err != nil {
			logger.Error("pending sweep failed", "error", err)
			return
		}
		for _, outcome := range outcomes {
			workerMetrics.RecordSweepDispatch(serviceName, outcome.Outcome)
		}
		if len(outcomes) > 0 {
			logger.Info("pending sweep dispatched", "tracks", len(outcomes))
		}
	}); err != nil {
		log.Fatalf("schedule pending sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeExtractionJobs(ctx, func(handlerCtx context.Context, job domain.ExtractionJob) error {
		jobCtx, cancel := context.WithTimeout(handlerCtx, cfg.ExtractionTimeout)
		defer cancel()

		workerMetrics.StartJob()
		start := time.Now()
		err := app.ExtractUC.ProcessTrack(jobCtx, job.DocumentID, job.Track)
		workerMetrics.FinishJob(serviceName, string(job.Track), time.Since(start), err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
