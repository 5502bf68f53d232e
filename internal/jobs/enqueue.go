package jobs

import (
	"context"
	"fmt"

	"trailstats/internal/storage"
)

func EnqueueAnalysis(ctx context.Context, store *storage.Store, trackID int64) error {
	if store == nil {
		return fmt.Errorf("job store not configured")
	}
	return store.EnqueueAnalysis(ctx, trackID)
}
