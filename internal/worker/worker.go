package worker

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"trailstats/internal/storage"
)

type Processor interface {
	Process(ctx context.Context, trackID int64) error
}

type Worker struct {
	Store     *storage.Store
	Processor Processor
}

// ProcessNext handles the oldest queued track. It reports false when the
// queue is empty. A failed analysis leaves the queue with its reason
// recorded, so one bad track cannot block the rest.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	queueID, trackID, err := w.Store.DequeueAnalysis(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if err := w.Processor.Process(ctx, trackID); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Printf("analysis of track %d failed: %v", trackID, err)
		if err := w.Store.MarkFailed(ctx, queueID, err.Error()); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := w.Store.MarkProcessed(ctx, queueID); err != nil {
		return false, err
	}

	return true, nil
}

// Run drains the queue, then polls it every interval until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("worker error: %v", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
