package processor

import (
	"context"
	"errors"
	"fmt"

	"trailstats/internal/analysis"
	"trailstats/internal/storage"
)

// AnalysisProcessor recomputes and stores the analysis of one track.
type AnalysisProcessor struct {
	Store    *storage.Store
	Analyzer *analysis.Analyzer
}

func (p *AnalysisProcessor) Process(ctx context.Context, trackID int64) error {
	if p.Store == nil || p.Analyzer == nil {
		return fmt.Errorf("analysis processor not configured")
	}
	track, err := p.Store.GetTrack(ctx, trackID)
	if err != nil {
		return err
	}
	points, err := p.Store.LoadTrackPoints(ctx, trackID)
	if err != nil {
		return err
	}

	meta := analysis.Metadata{
		Name:        track.Name,
		Description: track.Description,
		Creator:     track.Creator,
		Type:        track.Type,
	}
	// Recalculation keeps the id clients already know.
	previous, err := p.Store.GetAnalysis(ctx, trackID)
	switch {
	case err == nil:
		meta.ID = previous.ID
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	result, err := p.Analyzer.Analyze(ctx, points, meta)
	if err != nil {
		return fmt.Errorf("analyze track %d: %w", trackID, err)
	}
	return p.Store.UpsertAnalysis(ctx, trackID, result)
}
