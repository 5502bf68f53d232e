package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trailstats/internal/gps"
)

type NoteIcon string

const (
	IconPicture   NoteIcon = "picture"
	IconText      NoteIcon = "text"
	IconUndefined NoteIcon = "undefined"
)

func ParseNoteIcon(value string) NoteIcon {
	switch NoteIcon(strings.ToLower(strings.TrimSpace(value))) {
	case IconPicture:
		return IconPicture
	case IconText:
		return IconText
	default:
		return IconUndefined
	}
}

// Note is a user annotation pinned to a coordinate of a track.
type Note struct {
	ID        int64     `json:"id"`
	TrackID   int64     `json:"track_id"`
	Coord     gps.Coord `json:"coord"`
	Icon      NoteIcon  `json:"icon"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddNote attaches a note to an existing track and returns it with its id.
func (s *Store) AddNote(ctx context.Context, note Note) (Note, error) {
	if _, err := s.GetTrack(ctx, note.TrackID); err != nil {
		return Note{}, err
	}
	if note.Icon == "" {
		note.Icon = IconUndefined
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO track_notes (track_id, lat, lon, icon, comment, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, note.TrackID, note.Coord.Lat, note.Coord.Lon, string(note.Icon), note.Comment, note.CreatedAt.Unix())
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	note.ID, err = res.LastInsertId()
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

func (s *Store) ListNotes(ctx context.Context, trackID int64) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, track_id, lat, lon, icon, comment, created_at
FROM track_notes
WHERE track_id = ?
ORDER BY id
`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var n Note
		var icon string
		var created int64
		if err := rows.Scan(&n.ID, &n.TrackID, &n.Coord.Lat, &n.Coord.Lon, &icon, &n.Comment, &created); err != nil {
			return nil, err
		}
		n.Icon = NoteIcon(icon)
		n.CreatedAt = time.Unix(created, 0).UTC()
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notes, nil
}
