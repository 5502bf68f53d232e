package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"
	"github.com/tormoder/fit"

	"trailstats/internal/analysis"
	"trailstats/internal/gps"
)

var (
	ErrNotActivity     = errors.New("fit file is not an activity")
	ErrUnsupportedFile = errors.New("unsupported file type")
)

type Format string

const (
	FormatGPX Format = "gpx"
	FormatFIT Format = "fit"
)

// ParseFormat accepts a bare format name or a file name with extension.
func ParseFormat(value string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if ext := filepath.Ext(v); ext != "" {
		v = strings.TrimPrefix(ext, ".")
	}
	switch Format(v) {
	case FormatGPX:
		return FormatGPX, nil
	case FormatFIT:
		return FormatFIT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, value)
}

// Recording is one imported track with the metadata its file carried.
type Recording struct {
	Format      Format
	Name        string
	Description string
	Creator     string
	Type        string
	Points      gps.Track
}

func (r Recording) Metadata() analysis.Metadata {
	return analysis.Metadata{
		Name:        r.Name,
		Description: r.Description,
		Creator:     r.Creator,
		Type:        r.Type,
	}
}

func Parse(r io.Reader, format Format) (Recording, error) {
	switch format {
	case FormatGPX:
		return ParseGPX(r)
	case FormatFIT:
		return ParseFIT(r)
	}
	return Recording{}, fmt.Errorf("%w: %q", ErrUnsupportedFile, format)
}

func ParseFile(path string) (Recording, error) {
	format, err := ParseFormat(path)
	if err != nil {
		return Recording{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Recording{}, err
	}
	defer f.Close()

	rec, err := Parse(f, format)
	if err != nil {
		return Recording{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if rec.Name == "" {
		rec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return rec, nil
}

// ParseGPX reads the first segment of the first track.
func ParseGPX(r io.Reader) (Recording, error) {
	g, err := gpx.Parse(r)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: parse gpx: %w", gps.ErrCorruptTrack, err)
	}
	if len(g.Tracks) == 0 || len(g.Tracks[0].Segments) == 0 {
		return Recording{}, fmt.Errorf("%w: gpx has no track segment", gps.ErrCorruptTrack)
	}

	track := g.Tracks[0]
	rec := Recording{
		Format:      FormatGPX,
		Name:        track.Name,
		Description: track.Description,
		Creator:     g.Creator,
		Type:        track.Type,
	}
	if rec.Name == "" {
		rec.Name = g.Name
	}
	if rec.Description == "" {
		rec.Description = g.Description
	}

	points := track.Segments[0].Points
	rec.Points = make(gps.Track, 0, len(points))
	for _, p := range points {
		rec.Points = append(rec.Points, gps.Point{
			Lat:  p.Latitude,
			Lon:  p.Longitude,
			Time: p.Timestamp.UTC(),
		})
	}
	return rec, nil
}

// ParseFIT reads the positioned records of a FIT activity file.
func ParseFIT(r io.Reader) (Recording, error) {
	f, err := fit.Decode(r)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: decode fit: %w", gps.ErrCorruptTrack, err)
	}
	activity, err := f.Activity()
	if err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrNotActivity, err)
	}

	rec := Recording{
		Format:  FormatFIT,
		Creator: f.FileId.Manufacturer.String(),
	}
	if len(activity.Sessions) > 0 {
		rec.Type = activity.Sessions[0].Sport.String()
	}
	for _, m := range activity.Records {
		if m.PositionLat.Invalid() || m.PositionLong.Invalid() {
			continue
		}
		if m.Timestamp.IsZero() || fit.IsBaseTime(m.Timestamp) {
			continue
		}
		rec.Points = append(rec.Points, gps.Point{
			Lat:  m.PositionLat.Degrees(),
			Lon:  m.PositionLong.Degrees(),
			Time: m.Timestamp.UTC(),
		})
	}
	return rec, nil
}
