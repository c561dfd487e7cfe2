package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avolkov/docvault/internal/config"
	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
	"github.com/avolkov/docvault/internal/core/usecase"
	"github.com/avolkov/docvault/internal/infrastructure/extractor/mistral"
	"github.com/avolkov/docvault/internal/infrastructure/extractor/tesseract"
	"github.com/avolkov/docvault/internal/infrastructure/extractor/tika"
	"github.com/avolkov/docvault/internal/infrastructure/metadata"
	natsqueue "github.com/avolkov/docvault/internal/infrastructure/queue/nats"
	"github.com/avolkov/docvault/internal/infrastructure/repository/postgres"
	"github.com/avolkov/docvault/internal/infrastructure/resilience"
	"github.com/avolkov/docvault/internal/infrastructure/search/meilisearch"
	"github.com/avolkov/docvault/internal/infrastructure/search/qdrant"
	"github.com/avolkov/docvault/internal/infrastructure/storage/localfs"
)

// App holds the wired object graph shared by the api and worker binaries.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Repo    *postgres.DocumentRepository
	Queue   *natsqueue.Queue
	Routing *domain.RoutingTable

	UploadUC  *usecase.UploadDocumentUseCase
	ExtractUC *usecase.ExtractTrackUseCase
	TriggerUC *usecase.TriggerExtractionUseCase
	SearchUC  *usecase.SearchUseCase
	StatusUC  *usecase.GetDocumentUseCase
	InspectUC *usecase.InspectMetadataUseCase
	RemoveUC  *usecase.RemoveDocumentUseCase

	closeFn func()
	health  func(ctx context.Context) map[string]string
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		RetryMultiplier:     cfg.RetryMultiplier,
		BreakerEnabled:      true,
	})

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	routing, err := cfg.RoutingTable()
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load routing table: %w", err)
	}

	tikaClient := tika.New(cfg.TikaURL, executor)
	tesseractClient := tesseract.New(cfg.TesseractURL, executor)
	mistralClient := mistral.New(cfg.MistralAPIURL, cfg.MistralEmbedURL, cfg.MistralAPIKey, executor)

	ocrProviders := []ports.OCRProvider{tesseractClient}
	if mistralClient.Configured() {
		ocrProviders = append(ocrProviders, mistralClient)
	} else {
		logger.Warn("mistral api key not configured, ocr fallback and semantic search disabled")
	}

	searchIndex := meilisearch.New(cfg.MeiliURL, cfg.MeiliIndex, cfg.MeiliMasterKey)
	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	indexer := usecase.NewIndexDocumentUseCase(repo, searchIndex, vectorIndex, mistralClient, logger)

	uploadUC := usecase.NewUploadDocumentUseCase(repo, storage, queue, routing, logger)
	extractUC := usecase.NewExtractTrackUseCase(
		repo,
		storage,
		tikaClient,
		ocrProviders,
		indexer,
		routing,
		cfg.OCRMinConfidence,
		logger,
	)
	triggerUC := usecase.NewTriggerExtractionUseCase(repo, queue, cfg.BulkConcurrency, cfg.BulkDispatchRate, logger)
	searchUC := usecase.NewSearchUseCase(repo, searchIndex, vectorIndex, mistralClient, usecase.ExportLimits{
		MaxRecords: cfg.ExportMaxRecords,
		MaxBytes:   cfg.ExportMaxBytes,
	}, logger)
	statusUC := usecase.NewGetDocumentUseCase(repo)
	inspectUC := usecase.NewInspectMetadataUseCase(repo, metadata.New(cfg.StoragePath))
	removeUC := usecase.NewRemoveDocumentUseCase(repo, storage, indexer, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Repo:    repo,
		Queue:   queue,
		Routing: routing,

		UploadUC:  uploadUC,
		ExtractUC: extractUC,
		TriggerUC: triggerUC,
		SearchUC:  searchUC,
		StatusUC:  statusUC,
		InspectUC: inspectUC,
		RemoveUC:  removeUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
		health: func(ctx context.Context) map[string]string {
			components := map[string]string{
				"postgres": "ok",
				"nats":     "ok",
			}
			if err := db.PingContext(ctx); err != nil {
				components["postgres"] = err.Error()
			}
			if !queue.Connected() {
				components["nats"] = "disconnected"
			}
			return components
		},
	}, nil
}

// Health probes the hard dependencies of both binaries. The search
// engines are deliberately excluded; they are best-effort downstream.
func (a *App) Health(ctx context.Context) map[string]string {
	return a.health(ctx)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
