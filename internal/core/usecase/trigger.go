package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

// TriggerExtractionUseCase dispatches extraction jobs without waiting for
// the worker. Bulk dispatch is paced so re-enqueueing a large backlog
// does not hammer the queue or the downstream services all at once.
type TriggerExtractionUseCase struct {
	repo   ports.DocumentRepository
	queue  ports.ExtractionQueue
	logger *slog.Logger

	concurrency  int
	dispatchRate float64
}

func NewTriggerExtractionUseCase(
	repo ports.DocumentRepository,
	queue ports.ExtractionQueue,
	concurrency int,
	dispatchRate float64,
	logger *slog.Logger,
) *TriggerExtractionUseCase {
	if concurrency <= 0 {
		concurrency = 4
	}
	if dispatchRate <= 0 {
		dispatchRate = 10
	}
	return &TriggerExtractionUseCase{
		repo:         repo,
		queue:        queue,
		concurrency:  concurrency,
		dispatchRate: dispatchRate,
		logger:       logger,
	}
}

// TriggerDocument enqueues every reprocessable track of one document.
func (uc *TriggerExtractionUseCase) TriggerDocument(ctx context.Context, documentID int64) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	dispatched := 0
	for _, track := range []domain.Track{domain.TrackText, domain.TrackOCR} {
		if !reprocessableStatus(doc.StatusOf(track)) {
			continue
		}
		job := domain.ExtractionJob{DocumentID: doc.ID, Track: track, RequestedAt: time.Now().UTC()}
		if err := uc.queue.PublishExtractionJob(ctx, job); err != nil {
			return fmt.Errorf("publish extraction job: %w", err)
		}
		dispatched++
	}

	uc.logger.Info("extraction triggered",
		"document_id", documentID,
		"tracks_dispatched", dispatched,
	)
	return nil
}

// TriggerPending enqueues every pending or failed track in the store and
// reports per-track outcomes. One failed dispatch never aborts the batch.
func (uc *TriggerExtractionUseCase) TriggerPending(ctx context.Context) ([]domain.BulkOutcome, error) {
	pending, err := uc.repo.ListReprocessable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reprocessable tracks: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(uc.dispatchRate), 1)
	outcomes := make([]domain.BulkOutcome, len(pending))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.concurrency)
	for i, entry := range pending {
		group.Go(func() error {
			outcome := domain.BulkOutcome{
				DocumentID: entry.DocumentID,
				Track:      entry.Track,
				Outcome:    "dispatched",
			}

			if err := limiter.Wait(groupCtx); err != nil {
				return err
			}
			job := domain.ExtractionJob{
				DocumentID:  entry.DocumentID,
				Track:       entry.Track,
				RequestedAt: time.Now().UTC(),
			}
			if err := uc.queue.PublishExtractionJob(groupCtx, job); err != nil {
				outcome.Outcome = "failed"
				outcome.Error = err.Error()
			}

			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("bulk dispatch: %w", err)
	}

	uc.logger.Info("bulk extraction triggered", "tracks", len(outcomes))
	return outcomes, nil
}

func reprocessableStatus(status domain.TrackStatus) bool {
	return status == domain.StatusPending || status == domain.StatusFailed
}
