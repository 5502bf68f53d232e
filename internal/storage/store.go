package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"trailstats/internal/analysis"
	"trailstats/internal/elevation"
	"trailstats/internal/gps"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

type Track struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Creator     string `json:"creator,omitempty"`
	// Type is the activity label found in the recording.
	Type       string    `json:"type,omitempty"`
	Format     string    `json:"format"`
	StartTime  time.Time `json:"start_time"`
	PointCount int       `json:"point_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// TrackListing is a track with the headline numbers of its analysis, if
// one exists yet.
type TrackListing struct {
	Track
	Analyzed       bool    `json:"analyzed"`
	AnalysisID     string  `json:"analysis_id,omitempty"`
	Activity       string  `json:"activity,omitempty"`
	DistanceMeters float64 `json:"distance_m"`
	TimeMoving     int64   `json:"time_moving_s"`
	EleGain        float64 `json:"ele_gain"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	creator TEXT NOT NULL,
	type TEXT NOT NULL,
	format TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	point_count INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tracks_start_time ON tracks (start_time);
CREATE TABLE IF NOT EXISTS track_points (
	track_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	ts INTEGER NOT NULL,
	PRIMARY KEY (track_id, seq)
);
CREATE TABLE IF NOT EXISTS track_analyses (
	track_id INTEGER PRIMARY KEY,
	ulid TEXT NOT NULL,
	version INTEGER NOT NULL,
	activity TEXT NOT NULL,
	distance_m REAL NOT NULL,
	time_total INTEGER NOT NULL,
	time_moving INTEGER NOT NULL,
	ele_gain REAL NOT NULL,
	ele_loss REAL NOT NULL,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS track_pauses (
	track_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	index_before INTEGER NOT NULL,
	lat_before REAL NOT NULL,
	lon_before REAL NOT NULL,
	index_after INTEGER NOT NULL,
	lat_after REAL NOT NULL,
	lon_after REAL NOT NULL,
	duration_sec INTEGER NOT NULL,
	PRIMARY KEY (track_id, seq)
);
CREATE TABLE IF NOT EXISTS elevation_samples (
	track_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	distance_km REAL NOT NULL,
	elevation_m REAL NOT NULL,
	PRIMARY KEY (track_id, seq)
);
CREATE TABLE IF NOT EXISTS track_notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	icon TEXT NOT NULL,
	comment TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id INTEGER NOT NULL,
	enqueued_at INTEGER NOT NULL,
	processed_at INTEGER,
	error TEXT
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.ensureColumn(ctx, "analysis_queue", "error", "TEXT")
}

// ensureColumn adds a column that databases created by older builds lack.
func (s *Store) ensureColumn(ctx context.Context, table, column, decl string) error {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column)
	var count int
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// InsertTrack stores a track and its waypoints and returns the new id.
func (s *Store) InsertTrack(ctx context.Context, track Track, points gps.Track) (int64, error) {
	if track.StartTime.IsZero() {
		return 0, errors.New("track start time required")
	}
	if track.Format == "" {
		return 0, errors.New("track format required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tracks (name, description, creator, type, format, start_time, point_count, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, track.Name, track.Description, track.Creator, track.Type, track.Format, track.StartTime.UnixMilli(), len(points), time.Now().Unix())
	if err != nil {
		return 0, err
	}
	trackID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO track_points (track_id, seq, lat, lon, ts)
VALUES (?, ?, ?, ?, ?)
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, p := range points {
		if _, err := stmt.ExecContext(ctx, trackID, i, p.Lat, p.Lon, p.Time.UnixMilli()); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return trackID, nil
}

func (s *Store) GetTrack(ctx context.Context, trackID int64) (Track, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, description, creator, type, format, start_time, point_count, created_at
FROM tracks
WHERE id = ?
`, trackID)
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, fmt.Errorf("track %d: %w", trackID, ErrNotFound)
	}
	return track, err
}

func (s *Store) ListTracks(ctx context.Context) ([]TrackListing, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.name, t.description, t.creator, t.type, t.format, t.start_time, t.point_count, t.created_at,
	a.ulid, a.activity, a.distance_m, a.time_moving, a.ele_gain
FROM tracks t
LEFT JOIN track_analyses a ON a.track_id = t.id
ORDER BY t.start_time DESC, t.id DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []TrackListing
	for rows.Next() {
		var l TrackListing
		var start, created int64
		var id, activity sql.NullString
		var distance, gain sql.NullFloat64
		var moving sql.NullInt64
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.Creator, &l.Type, &l.Format, &start, &l.PointCount, &created,
			&id, &activity, &distance, &moving, &gain); err != nil {
			return nil, err
		}
		l.StartTime = time.UnixMilli(start).UTC()
		l.CreatedAt = time.Unix(created, 0).UTC()
		if id.Valid {
			l.Analyzed = true
			l.AnalysisID = id.String
			l.Activity = activity.String
			l.DistanceMeters = distance.Float64
			l.TimeMoving = moving.Int64
			l.EleGain = gain.Float64
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, nil
}

// HasTrackStartingAt reports whether a track with this exact start time has
// been imported before.
func (s *Store) HasTrackStartingAt(ctx context.Context, start time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT 1
FROM tracks
WHERE start_time = ?
LIMIT 1
`, start.UnixMilli())
	var marker int
	if err := row.Scan(&marker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) LoadTrackPoints(ctx context.Context, trackID int64) (gps.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT lat, lon, ts
FROM track_points
WHERE track_id = ?
ORDER BY seq
`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points gps.Track
	for rows.Next() {
		var p gps.Point
		var ts int64
		if err := rows.Scan(&p.Lat, &p.Lon, &ts); err != nil {
			return nil, err
		}
		p.Time = time.UnixMilli(ts).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// UpsertAnalysis replaces the stored analysis of a track, its pauses and
// its elevation samples in one transaction.
func (s *Store) UpsertAnalysis(ctx context.Context, trackID int64, result analysis.TrackAnalysis) error {
	samples := result.Elevation
	pauses := result.Pauses
	result.Elevation = nil
	result.Pauses = nil
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO track_analyses (track_id, ulid, version, activity, distance_m, time_total, time_moving, ele_gain, ele_loss, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(track_id) DO UPDATE SET
	ulid = excluded.ulid,
	version = excluded.version,
	activity = excluded.activity,
	distance_m = excluded.distance_m,
	time_total = excluded.time_total,
	time_moving = excluded.time_moving,
	ele_gain = excluded.ele_gain,
	ele_loss = excluded.ele_loss,
	payload = excluded.payload,
	updated_at = excluded.updated_at
`, trackID, result.ID, result.Version, string(result.Activity), result.DistanceMeters, result.TimeTotal, result.TimeMoving,
		result.EleGain, result.EleLoss, string(payload), time.Now().Unix()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM track_pauses WHERE track_id = ?`, trackID); err != nil {
		return err
	}
	pauseStmt, err := tx.PrepareContext(ctx, `
INSERT INTO track_pauses (track_id, seq, index_before, lat_before, lon_before, index_after, lat_after, lon_after, duration_sec)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer pauseStmt.Close()
	for i, p := range pauses {
		if _, err := pauseStmt.ExecContext(ctx, trackID, i, p.IndexBefore, p.CoordBefore.Lat, p.CoordBefore.Lon,
			p.IndexAfter, p.CoordAfter.Lat, p.CoordAfter.Lon, p.DurationSec); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM elevation_samples WHERE track_id = ?`, trackID); err != nil {
		return err
	}
	sampleStmt, err := tx.PrepareContext(ctx, `
INSERT INTO elevation_samples (track_id, seq, distance_km, elevation_m)
VALUES (?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer sampleStmt.Close()
	for i, sample := range samples {
		if _, err := sampleStmt.ExecContext(ctx, trackID, i, sample.DistanceKm, sample.Elevation); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAnalysis returns the stored analysis of a track with its pauses and
// elevation samples. ErrNotFound means the track has not been analyzed.
func (s *Store) GetAnalysis(ctx context.Context, trackID int64) (analysis.TrackAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT payload
FROM track_analyses
WHERE track_id = ?
`, trackID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return analysis.TrackAnalysis{}, fmt.Errorf("analysis of track %d: %w", trackID, ErrNotFound)
		}
		return analysis.TrackAnalysis{}, err
	}

	var result analysis.TrackAnalysis
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return analysis.TrackAnalysis{}, fmt.Errorf("decode analysis of track %d: %w", trackID, err)
	}
	pauses, err := s.LoadPauses(ctx, trackID)
	if err != nil {
		return analysis.TrackAnalysis{}, err
	}
	samples, err := s.LoadElevation(ctx, trackID)
	if err != nil {
		return analysis.TrackAnalysis{}, err
	}
	result.Pauses = pauses
	result.Elevation = samples
	return result, nil
}

func (s *Store) LoadPauses(ctx context.Context, trackID int64) ([]gps.Pause, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT index_before, lat_before, lon_before, index_after, lat_after, lon_after, duration_sec
FROM track_pauses
WHERE track_id = ?
ORDER BY seq
`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pauses := []gps.Pause{}
	for rows.Next() {
		var p gps.Pause
		if err := rows.Scan(&p.IndexBefore, &p.CoordBefore.Lat, &p.CoordBefore.Lon,
			&p.IndexAfter, &p.CoordAfter.Lat, &p.CoordAfter.Lon, &p.DurationSec); err != nil {
			return nil, err
		}
		pauses = append(pauses, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pauses, nil
}

func (s *Store) LoadElevation(ctx context.Context, trackID int64) ([]elevation.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT distance_km, elevation_m
FROM elevation_samples
WHERE track_id = ?
ORDER BY seq
`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []elevation.Sample{}
	for rows.Next() {
		var sample elevation.Sample
		if err := rows.Scan(&sample.DistanceKm, &sample.Elevation); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (s *Store) EnqueueAnalysis(ctx context.Context, trackID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO analysis_queue (track_id, enqueued_at)
VALUES (?, ?)
`, trackID, time.Now().Unix())
	return err
}

// DequeueAnalysis returns the oldest unprocessed queue entry, or
// sql.ErrNoRows when the queue is empty.
func (s *Store) DequeueAnalysis(ctx context.Context) (queueID int64, trackID int64, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, track_id
FROM analysis_queue
WHERE processed_at IS NULL
ORDER BY id
LIMIT 1
`)
	if err := row.Scan(&queueID, &trackID); err != nil {
		return 0, 0, err
	}
	return queueID, trackID, nil
}

func (s *Store) MarkProcessed(ctx context.Context, queueID int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE analysis_queue
SET processed_at = ?
WHERE id = ?
`, time.Now().Unix(), queueID)
	return err
}

// MarkFailed closes a queue entry whose analysis failed and keeps the reason.
func (s *Store) MarkFailed(ctx context.Context, queueID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE analysis_queue
SET processed_at = ?, error = ?
WHERE id = ?
`, time.Now().Unix(), reason, queueID)
	return err
}

// AnalysisFailure returns the error of the track's most recent finished
// queue entry, or "" when that run succeeded or none finished yet.
func (s *Store) AnalysisFailure(ctx context.Context, trackID int64) (string, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COALESCE(error, '')
FROM analysis_queue
WHERE track_id = ? AND processed_at IS NOT NULL
ORDER BY id DESC
LIMIT 1
`, trackID)
	var reason string
	if err := row.Scan(&reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return reason, nil
}

func (s *Store) CountQueue(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM analysis_queue
WHERE processed_at IS NULL
`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// IsQueued reports whether the track waits for (re)analysis.
func (s *Store) IsQueued(ctx context.Context, trackID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM analysis_queue
WHERE track_id = ? AND processed_at IS NULL
`, trackID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (Track, error) {
	var t Track
	var start, created int64
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Creator, &t.Type, &t.Format, &start, &t.PointCount, &created); err != nil {
		return Track{}, err
	}
	t.StartTime = time.UnixMilli(start).UTC()
	t.CreatedAt = time.Unix(created, 0).UTC()
	return t, nil
}
