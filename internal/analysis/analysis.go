// Package analysis turns a recorded track into a TrackAnalysis: pauses,
// moving distance and time, bounds and an elevation profile.
package analysis

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid"
	"github.com/paulmach/orb"

	"trailstats/internal/elevation"
	"trailstats/internal/gps"
)

// Version is bumped whenever stored analyses need recomputing.
const Version = 1

type Metadata struct {
	// ID is an existing analysis id to keep on recalculation.
	ID          string
	Name        string
	Description string
	Creator     string
	// Type is the recording's own label, a GPX <type> or a FIT sport.
	Type string
	// Activity overrides Type when set.
	Activity Activity
}

type TrackAnalysis struct {
	Version     int      `json:"version"`
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Creator     string   `json:"creator,omitempty"`
	Activity    Activity `json:"activity"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Start     gps.Coord `json:"start"`
	End       gps.Coord `json:"end"`
	North     float64   `json:"north"`
	South     float64   `json:"south"`
	East      float64   `json:"east"`
	West      float64   `json:"west"`

	DistanceMeters float64 `json:"distance_m"`
	TimeTotal      int64   `json:"time_total_s"`
	TimeMoving     int64   `json:"time_moving_s"`
	AvgVelocity    float64 `json:"avg_velocity_kmh"`

	ElevationAvailable bool    `json:"elevation_available"`
	EleGain            float64 `json:"ele_gain"`
	EleLoss            float64 `json:"ele_loss"`
	EleMax             float64 `json:"ele_max"`
	EleMin             float64 `json:"ele_min"`

	Pauses    []gps.Pause        `json:"pauses"`
	Elevation []elevation.Sample `json:"elevation,omitempty"`
}

type Options struct {
	Pauses    gps.PauseOptions
	Elevation elevation.ProfileOptions
}

func DefaultOptions() Options {
	return Options{
		Pauses:    gps.DefaultPauseOptions(),
		Elevation: elevation.DefaultProfileOptions(),
	}
}

// Analyzer runs the analysis pipeline. A nil Tiles skips the elevation
// profile.
type Analyzer struct {
	Tiles   elevation.TileSource
	Options Options
}

func (a *Analyzer) Analyze(ctx context.Context, track gps.Track, meta Metadata) (TrackAnalysis, error) {
	if len(track) == 0 {
		return TrackAnalysis{}, fmt.Errorf("%w: no waypoints", gps.ErrCorruptTrack)
	}
	if err := track.Validate(); err != nil {
		return TrackAnalysis{}, err
	}

	pauses, err := gps.FindPauses(track, a.Options.Pauses)
	if err != nil {
		return TrackAnalysis{}, fmt.Errorf("find pauses: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return TrackAnalysis{}, err
	}

	distance, err := gps.CalculateDistance(track, pauses)
	if err != nil {
		return TrackAnalysis{}, fmt.Errorf("distance: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return TrackAnalysis{}, err
	}

	var profile elevation.Profile
	available := false
	if a.Tiles != nil {
		profile, err = elevation.BuildProfile(ctx, a.Tiles, track, pauses, a.Options.Elevation)
		switch {
		case err == nil:
			available = true
		case ctx.Err() != nil:
			return TrackAnalysis{}, ctx.Err()
		case errors.Is(err, gps.ErrPauseIndex):
			return TrackAnalysis{}, err
		default:
			log.Printf("elevation profile unavailable: %v", err)
			profile = elevation.Profile{}
		}
	}

	first, last := track[0], track[len(track)-1]
	total := int64(track.Duration() / time.Second)
	moving := total
	for _, p := range pauses {
		moving -= p.DurationSec
	}
	if moving < 0 {
		moving = 0
	}

	id := meta.ID
	if id == "" {
		id, err = NewID(first.Time)
		if err != nil {
			return TrackAnalysis{}, err
		}
	}

	activity := meta.Activity
	if activity == "" {
		activity = ParseActivity(meta.Type)
	}

	bound := LineString(track).Bound()
	if pauses == nil {
		pauses = []gps.Pause{}
	}
	return TrackAnalysis{
		Version:            Version,
		ID:                 id,
		Name:               meta.Name,
		Description:        meta.Description,
		Creator:            meta.Creator,
		Activity:           activity,
		StartTime:          first.Time,
		EndTime:            last.Time,
		Start:              first.Coord(),
		End:                last.Coord(),
		North:              bound.Top(),
		South:              bound.Bottom(),
		East:               bound.Right(),
		West:               bound.Left(),
		DistanceMeters:     distance,
		TimeTotal:          total,
		TimeMoving:         moving,
		AvgVelocity:        averageVelocity(distance, moving),
		ElevationAvailable: available,
		EleGain:            profile.Gain,
		EleLoss:            profile.Loss,
		EleMax:             profile.Max,
		EleMin:             profile.Min,
		Pauses:             pauses,
		Elevation:          profile.Samples,
	}, nil
}

func idTimestamp(start time.Time) uint64 {
	ms := start.UnixMilli()
	if ms < 0 {
		return 0
	}
	if uint64(ms) > ulid.MaxTime() {
		return ulid.MaxTime()
	}
	return uint64(ms)
}

// averageVelocity is in km/h; zero moving time yields 0.
func averageVelocity(distanceMeters float64, movingSeconds int64) float64 {
	if movingSeconds <= 0 {
		return 0
	}
	return (distanceMeters / 1000) / (float64(movingSeconds) / 3600)
}

// NewID returns a ULID whose time component is the track's start, clamped
// to the range a ULID can hold. Starts before 1970 get the epoch.
func NewID(start time.Time) (string, error) {
	id, err := ulid.New(idTimestamp(start), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("new analysis id: %w", err)
	}
	return id.String(), nil
}

// LineString converts a track to an orb line in lon/lat order.
func LineString(track gps.Track) orb.LineString {
	ls := make(orb.LineString, len(track))
	for i, p := range track {
		ls[i] = orb.Point{p.Lon, p.Lat}
	}
	return ls
}

// Summary is a one-line description such as
// "Morning hike: 12 km in 3h25m0s (moving 2h50m0s), 4 pauses, +830 m / -790 m".
func (ta TrackAnalysis) Summary() string {
	name := ta.Name
	if name == "" {
		name = string(ta.Activity)
	}
	s := fmt.Sprintf("%s: %s in %s (moving %s), %s %s",
		name,
		humanize.SIWithDigits(ta.DistanceMeters, 1, "m"),
		time.Duration(ta.TimeTotal)*time.Second,
		time.Duration(ta.TimeMoving)*time.Second,
		humanize.Comma(int64(len(ta.Pauses))),
		plural(len(ta.Pauses), "pause", "pauses"),
	)
	if ta.ElevationAvailable {
		s += fmt.Sprintf(", +%s m / -%s m", humanize.Comma(int64(ta.EleGain)), humanize.Comma(int64(ta.EleLoss)))
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
