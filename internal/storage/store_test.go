package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trailstats/internal/analysis"
	"trailstats/internal/elevation"
	"trailstats/internal/gps"
)

var base = time.Date(2024, 3, 9, 7, 15, 0, 250_000_000, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return store
}

func samplePoints() gps.Track {
	return gps.Track{
		{Lat: 46.5, Lon: 7.9, Time: base},
		{Lat: 46.501, Lon: 7.901, Time: base.Add(10 * time.Second)},
		{Lat: 46.502, Lon: 7.902, Time: base.Add(20 * time.Second)},
	}
}

func insertTrack(t *testing.T, store *Store, start time.Time) int64 {
	t.Helper()
	id, err := store.InsertTrack(context.Background(), Track{
		Name:      "Eiger trail",
		Creator:   "Garmin",
		Type:      "hiking",
		Format:    "gpx",
		StartTime: start,
	}, samplePoints())
	if err != nil {
		t.Fatalf("insert track: %v", err)
	}
	return id
}

func TestInsertAndLoadTrack(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := insertTrack(t, store, base)

	track, err := store.GetTrack(ctx, id)
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	if track.Name != "Eiger trail" || track.Format != "gpx" || track.PointCount != 3 {
		t.Fatalf("unexpected track: %+v", track)
	}
	if !track.StartTime.Equal(base) {
		t.Fatalf("expected start %v, got %v", base, track.StartTime)
	}

	points, err := store.LoadTrackPoints(ctx, id)
	if err != nil {
		t.Fatalf("load points: %v", err)
	}
	want := samplePoints()
	if len(points) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(points))
	}
	for i := range want {
		if points[i].Lat != want[i].Lat || points[i].Lon != want[i].Lon || !points[i].Time.Equal(want[i].Time) {
			t.Fatalf("point %d: expected %+v, got %+v", i, want[i], points[i])
		}
	}
}

func TestInsertTrackRequiresStart(t *testing.T) {
	store := openStore(t)
	if _, err := store.InsertTrack(context.Background(), Track{Format: "gpx"}, nil); err == nil {
		t.Fatalf("expected error for missing start time")
	}
}

func TestGetTrackNotFound(t *testing.T) {
	store := openStore(t)
	if _, err := store.GetTrack(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetAnalysis(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for analysis, got %v", err)
	}
}

func TestHasTrackStartingAt(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	insertTrack(t, store, base)

	found, err := store.HasTrackStartingAt(ctx, base)
	if err != nil {
		t.Fatalf("has track: %v", err)
	}
	if !found {
		t.Fatalf("expected track starting at %v", base)
	}
	found, err = store.HasTrackStartingAt(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("has track: %v", err)
	}
	if found {
		t.Fatalf("expected no track one second later")
	}
}

func TestUpsertAnalysisReplaces(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := insertTrack(t, store, base)

	first := analysis.TrackAnalysis{
		Version:            analysis.Version,
		ID:                 "01HRZ0000000000000000000AB",
		Activity:           analysis.ActivityHiking,
		StartTime:          base,
		DistanceMeters:     5400,
		TimeTotal:          3600,
		TimeMoving:         3000,
		ElevationAvailable: true,
		EleGain:            320,
		Pauses: []gps.Pause{
			{IndexBefore: 1, IndexAfter: 4, DurationSec: 90, CoordBefore: gps.Coord{Lat: 46.5, Lon: 7.9}},
			{IndexBefore: 8, IndexAfter: 12, DurationSec: 300},
		},
		Elevation: []elevation.Sample{{DistanceKm: 0, Elevation: 1200}, {DistanceKm: 0.1, Elevation: 1210}},
	}
	if err := store.UpsertAnalysis(ctx, id, first); err != nil {
		t.Fatalf("upsert analysis: %v", err)
	}

	got, err := store.GetAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if got.ID != first.ID || got.DistanceMeters != 5400 || got.Activity != analysis.ActivityHiking {
		t.Fatalf("unexpected analysis: %+v", got)
	}
	if !got.StartTime.Equal(base) {
		t.Fatalf("expected start %v, got %v", base, got.StartTime)
	}
	if len(got.Pauses) != 2 || got.Pauses[0] != first.Pauses[0] {
		t.Fatalf("unexpected pauses: %+v", got.Pauses)
	}
	if len(got.Elevation) != 2 || got.Elevation[1].Elevation != 1210 {
		t.Fatalf("unexpected elevation: %+v", got.Elevation)
	}

	second := first
	second.DistanceMeters = 5500
	second.Pauses = []gps.Pause{{IndexBefore: 2, IndexAfter: 3, DurationSec: 60}}
	second.Elevation = nil
	if err := store.UpsertAnalysis(ctx, id, second); err != nil {
		t.Fatalf("upsert analysis: %v", err)
	}
	got, err = store.GetAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if got.DistanceMeters != 5500 || len(got.Pauses) != 1 || len(got.Elevation) != 0 {
		t.Fatalf("expected replaced analysis, got distance %v, %d pauses, %d samples", got.DistanceMeters, len(got.Pauses), len(got.Elevation))
	}
}

func TestListTracks(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	older := insertTrack(t, store, base)
	newer := insertTrack(t, store, base.Add(24*time.Hour))
	if err := store.UpsertAnalysis(ctx, older, analysis.TrackAnalysis{ID: "x", Activity: analysis.ActivityHiking, DistanceMeters: 1200}); err != nil {
		t.Fatalf("upsert analysis: %v", err)
	}

	listings, err := store.ListTracks(ctx)
	if err != nil {
		t.Fatalf("list tracks: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(listings))
	}
	if listings[0].ID != newer || listings[0].Analyzed {
		t.Fatalf("expected newest unanalyzed track first, got %+v", listings[0])
	}
	if listings[1].ID != older || !listings[1].Analyzed || listings[1].DistanceMeters != 1200 {
		t.Fatalf("expected analyzed older track second, got %+v", listings[1])
	}
}

func TestNotes(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := insertTrack(t, store, base)

	note, err := store.AddNote(ctx, Note{TrackID: id, Coord: gps.Coord{Lat: 46.501, Lon: 7.901}, Icon: ParseNoteIcon("Picture"), Comment: "view"})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if note.ID == 0 {
		t.Fatalf("expected note id")
	}
	if _, err := store.AddNote(ctx, Note{TrackID: id}); err != nil {
		t.Fatalf("add note: %v", err)
	}

	notes, err := store.ListNotes(ctx, id)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].Icon != IconPicture || notes[0].Comment != "view" {
		t.Fatalf("unexpected first note: %+v", notes[0])
	}
	if notes[1].Icon != IconUndefined {
		t.Fatalf("expected undefined icon, got %s", notes[1].Icon)
	}

	if _, err := store.AddNote(ctx, Note{TrackID: 999}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown track, got %v", err)
	}
}

func TestParseNoteIcon(t *testing.T) {
	tests := map[string]NoteIcon{
		"picture": IconPicture,
		" TEXT ":  IconText,
		"pin":     IconUndefined,
		"":        IconUndefined,
	}
	for in, want := range tests {
		if got := ParseNoteIcon(in); got != want {
			t.Fatalf("ParseNoteIcon(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if _, _, err := store.DequeueAnalysis(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows on empty queue, got %v", err)
	}

	id := insertTrack(t, store, base)
	if err := store.EnqueueAnalysis(ctx, id); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.EnqueueAnalysis(ctx, id+1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	count, err := store.CountQueue(ctx)
	if err != nil {
		t.Fatalf("count queue: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 queued, got %d", count)
	}
	queued, err := store.IsQueued(ctx, id)
	if err != nil || !queued {
		t.Fatalf("expected track %d queued, got %v (%v)", id, queued, err)
	}

	queueID, trackID, err := store.DequeueAnalysis(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if trackID != id {
		t.Fatalf("expected oldest entry for track %d, got %d", id, trackID)
	}
	if err := store.MarkProcessed(ctx, queueID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	count, err = store.CountQueue(ctx)
	if err != nil {
		t.Fatalf("count queue: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 queued, got %d", count)
	}
	if queued, _ := store.IsQueued(ctx, id); queued {
		t.Fatalf("expected track %d no longer queued", id)
	}
}

func TestQueueFailure(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := insertTrack(t, store, base)

	if reason, err := store.AnalysisFailure(ctx, id); err != nil || reason != "" {
		t.Fatalf("expected no failure before any run, got %q (%v)", reason, err)
	}
	if err := store.EnqueueAnalysis(ctx, id); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queueID, _, err := store.DequeueAnalysis(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.MarkFailed(ctx, queueID, "no waypoints"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if count, _ := store.CountQueue(ctx); count != 0 {
		t.Fatalf("expected failed entry to leave the queue, got %d queued", count)
	}
	reason, err := store.AnalysisFailure(ctx, id)
	if err != nil {
		t.Fatalf("analysis failure: %v", err)
	}
	if reason != "no waypoints" {
		t.Fatalf("expected reason %q, got %q", "no waypoints", reason)
	}

	// A later successful run clears the reported failure.
	if err := store.EnqueueAnalysis(ctx, id); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queueID, _, err = store.DequeueAnalysis(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.MarkProcessed(ctx, queueID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if reason, _ := store.AnalysisFailure(ctx, id); reason != "" {
		t.Fatalf("expected failure cleared, got %q", reason)
	}
}

func TestInitSchemaAddsQueueErrorColumn(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, err := store.db.ExecContext(ctx, `
CREATE TABLE analysis_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id INTEGER NOT NULL,
	enqueued_at INTEGER NOT NULL,
	processed_at INTEGER
)`); err != nil {
		t.Fatalf("create old queue: %v", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("init schema twice: %v", err)
	}
	if err := store.EnqueueAnalysis(ctx, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queueID, _, err := store.DequeueAnalysis(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.MarkFailed(ctx, queueID, "boom"); err != nil {
		t.Fatalf("expected migrated error column, got %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trailstats.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	id := insertTrack(t, store, base)
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetTrack(ctx, id); err != nil {
		t.Fatalf("expected track to survive reopen, got %v", err)
	}
}
