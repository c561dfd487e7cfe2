package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/avolkov/docvault/internal/adapters/http"
	"github.com/avolkov/docvault/internal/bootstrap"
	"github.com/avolkov/docvault/internal/config"
	"github.com/avolkov/docvault/internal/observability/logging"
	"github.com/avolkov/docvault/internal/observability/metrics"
)

const serviceName = "api"

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

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(httpadapter.Deps{
		Uploader:  app.UploadUC,
		Documents: app.StatusUC,
		Trigger:   app.TriggerUC,
		Search:    app.SearchUC,
		Inspector: app.InspectUC,
		Remover:   app.RemoveUC,

		Logger:  logger,
		Metrics: httpMetrics,
		Routing: app.Routing,
		Health:  app.Health,

		Service:        serviceName,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ExportTimeout:  cfg.ExportTimeout,

		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		OverloadWait:   cfg.APIOverloadWait,
	})

	root := http.NewServeMux()
	root.Handle("/metrics", httpMetrics.Handler())
	root.Handle("/", router.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ExportTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
}
