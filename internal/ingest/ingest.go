package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"trailstats/internal/gps"
	"trailstats/internal/jobs"
	"trailstats/internal/storage"
)

var ErrAlreadyImported = errors.New("track already imported")

type Importer struct {
	Store *storage.Store
}

// Import stores a recording and queues its analysis. A recording starting
// at the same instant as a stored track is rejected with ErrAlreadyImported.
func (i *Importer) Import(ctx context.Context, rec Recording) (int64, error) {
	if i.Store == nil {
		return 0, fmt.Errorf("import store not configured")
	}
	if len(rec.Points) == 0 {
		return 0, fmt.Errorf("%w: no waypoints", gps.ErrCorruptTrack)
	}
	if err := rec.Points.Validate(); err != nil {
		return 0, err
	}

	start := rec.Points[0].Time
	exists, err := i.Store.HasTrackStartingAt(ctx, start)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("%w: a track starting %s exists", ErrAlreadyImported, start.Format(time.RFC3339))
	}

	trackID, err := i.Store.InsertTrack(ctx, storage.Track{
		Name:        rec.Name,
		Description: rec.Description,
		Creator:     rec.Creator,
		Type:        rec.Type,
		Format:      string(rec.Format),
		StartTime:   start,
	}, rec.Points)
	if err != nil {
		return 0, err
	}
	if err := jobs.EnqueueAnalysis(ctx, i.Store, trackID); err != nil {
		return trackID, err
	}

	log.Printf("imported %s track %d %q (%d points)", rec.Format, trackID, rec.Name, len(rec.Points))
	return trackID, nil
}

// Recording rebuilds a stored track as it was imported.
func (i *Importer) Recording(ctx context.Context, trackID int64) (Recording, error) {
	track, err := i.Store.GetTrack(ctx, trackID)
	if err != nil {
		return Recording{}, err
	}
	points, err := i.Store.LoadTrackPoints(ctx, trackID)
	if err != nil {
		return Recording{}, err
	}
	return Recording{
		Format:      Format(track.Format),
		Name:        track.Name,
		Description: track.Description,
		Creator:     track.Creator,
		Type:        track.Type,
		Points:      points,
	}, nil
}

// ExportGPX writes the recording as a GPX 1.1 document with one track and
// one segment.
func ExportGPX(rec Recording) ([]byte, error) {
	creator := rec.Creator
	if creator == "" {
		creator = "trailstats"
	}
	points := make([]gpx.GPXPoint, len(rec.Points))
	for i, p := range rec.Points {
		points[i] = gpx.GPXPoint{
			Point:     gpx.Point{Latitude: p.Lat, Longitude: p.Lon},
			Timestamp: p.Time,
		}
	}
	doc := &gpx.GPX{
		Version: "1.1",
		Creator: creator,
		Tracks: []gpx.GPXTrack{{
			Name:        rec.Name,
			Description: rec.Description,
			Type:        rec.Type,
			Segments:    []gpx.GPXTrackSegment{{Points: points}},
		}},
	}
	out, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encode gpx: %w", err)
	}
	return out, nil
}
