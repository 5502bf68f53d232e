// Package elevation builds elevation profiles for GPS tracks from 5x5 degree
// SRTM raster tiles.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"trailstats/internal/gps"
)

const (
	// Interpolated values above this are the dataset's no-data marker.
	noDataAbove = 8000
	// Corner values further apart than this are treated as voids.
	maxCornerSpread = 2000

	// Earth's lowest and highest points seed the extrema.
	lowestPoint  = -414
	highestPoint = 8849
)

var ErrElevationUnavailable = errors.New("elevation data unavailable")

type Sample struct {
	DistanceKm float64 `json:"distance_km"`
	Elevation  float64 `json:"elevation_m"`
}

type Profile struct {
	// Samples is the smoothed profile, Raw the interpolated values.
	Samples []Sample
	Raw     []Sample
	Gain    float64
	Loss    float64
	Max     float64
	Min     float64
}

type ProfileOptions struct {
	// MinInterval is the moving distance in meters between two samples.
	MinInterval float64
}

func DefaultProfileOptions() ProfileOptions {
	return ProfileOptions{MinInterval: 100}
}

// BuildProfile samples the elevation along track every opts.MinInterval
// meters of moving distance. Pause interiors are skipped the same way
// gps.CalculateDistance skips them.
//
// Sampling stops early, without error, once a pixel neighbourhood leaves its
// tile or a tile after the first cannot be loaded. Failing to load the first
// tile returns ErrElevationUnavailable.
func BuildProfile(ctx context.Context, src TileSource, track gps.Track, pauses []gps.Pause, opts ProfileOptions) (Profile, error) {
	if err := gps.ValidatePauses(track, pauses); err != nil {
		return Profile{}, err
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultProfileOptions().MinInterval
	}
	if len(track) == 0 {
		return Profile{}, nil
	}

	b := &profileBuilder{src: src}
	var raw []Sample
	var moved float64
	sinceSample := opts.MinInterval
	last := track[0]
	next := 0

walk:
	for i, p := range track {
		if err := ctx.Err(); err != nil {
			return Profile{}, err
		}
		if next < len(pauses) && i > pauses[next].IndexBefore {
			if i < pauses[next].IndexAfter {
				continue
			}
			last = p
			next++
			continue
		}

		d := gps.Distance(last, p)
		moved += d
		sinceSample += d
		last = p
		if sinceSample < opts.MinInterval {
			continue
		}
		sinceSample = 0

		ele, ok, err := b.elevationAt(ctx, p)
		if err != nil && ctx.Err() != nil {
			return Profile{}, ctx.Err()
		}
		switch {
		case err != nil && b.loaded == 0:
			return Profile{}, fmt.Errorf("%w: %w", ErrElevationUnavailable, err)
		case err != nil:
			log.Printf("elevation profile truncated at waypoint %d: %v", i, err)
			break walk
		case !ok:
			break walk
		}
		raw = append(raw, Sample{DistanceKm: moved / 1000, Elevation: ele})
	}

	smoothed := Smooth(raw)
	gain, loss, highest, lowest := Summarize(smoothed)
	return Profile{
		Samples: smoothed,
		Raw:     raw,
		Gain:    gain,
		Loss:    loss,
		Max:     highest,
		Min:     lowest,
	}, nil
}

type profileBuilder struct {
	src    TileSource
	cell   Cell
	tile   Sampler
	loaded int
}

func (b *profileBuilder) elevationAt(ctx context.Context, p gps.Point) (float64, bool, error) {
	cell, err := CellFor(p.Lat, p.Lon)
	if err != nil {
		return 0, false, err
	}
	if b.tile == nil || cell != b.cell {
		tile, err := b.src.Tile(ctx, cell)
		if err != nil {
			return 0, false, err
		}
		b.cell, b.tile = cell, tile
		b.loaded++
	}
	x, y := cell.PixelAt(p.Lat, p.Lon)
	return interpolate(b.tile, x, y)
}

// interpolate reads the four pixels around (x, y) and blends them
// bilinearly. ok is false when a neighbour lies outside the tile.
func interpolate(s Sampler, x, y float64) (float64, bool, error) {
	width, length := s.Dims()
	c0, c1, fx := neighbours(x)
	r0, r1, fy := neighbours(y)
	if c0 < 0 || r0 < 0 || c1 >= width || r1 >= length {
		return 0, false, nil
	}

	var v [4]float64
	for i, rc := range [4][2]int{{r0, c0}, {r0, c1}, {r1, c0}, {r1, c1}} {
		raw, err := s.ValueAt(rc[0], rc[1])
		if err != nil {
			return 0, false, err
		}
		v[i] = float64(raw)
	}

	lo, hi := v[0], v[0]
	for _, val := range v[1:] {
		lo = math.Min(lo, val)
		hi = math.Max(hi, val)
	}
	if hi-lo > maxCornerSpread {
		v = [4]float64{}
	}

	top := v[0]*(1-fx) + v[1]*fx
	bottom := v[2]*(1-fx) + v[3]*fx
	ele := top*(1-fy) + bottom*fy
	if ele > noDataAbove {
		ele = 0
	}
	return ele, true, nil
}

// neighbours returns the pixel indices bracketing pos and the weight of the
// upper one. A position exactly on a pixel uses that pixel twice, so the
// last row and column stay addressable.
func neighbours(pos float64) (lo, hi int, frac float64) {
	base := math.Floor(pos)
	frac = pos - base
	lo = int(base)
	hi = lo + 1
	if frac == 0 {
		hi = lo
	}
	return lo, hi, frac
}
