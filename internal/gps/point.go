package gps

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const earthRadiusMeters = 6371000

var (
	// ErrCorruptTrack marks input that cannot be analyzed at all.
	ErrCorruptTrack = errors.New("corrupt track")
	// ErrPauseIndex marks a pause list inconsistent with its track.
	ErrPauseIndex = errors.New("inconsistent pause indices")
)

type Point struct {
	Lat  float64
	Lon  float64
	Time time.Time
}

// Track is an ordered recording; index order is time order.
type Track []Point

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) Coord() Coord {
	return Coord{Lat: p.Lat, Lon: p.Lon}
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	return haversineMeters(a.Lat, a.Lon, b.Lat, b.Lon)
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Validate reports ErrCorruptTrack for waypoints without a timestamp.
func (t Track) Validate() error {
	for i, p := range t {
		if p.Time.IsZero() {
			return fmt.Errorf("%w: waypoint %d has no timestamp", ErrCorruptTrack, i)
		}
	}
	return nil
}

// Duration is the absolute time between the first and last waypoint.
func (t Track) Duration() time.Duration {
	if len(t) < 2 {
		return 0
	}
	d := t[len(t)-1].Time.Sub(t[0].Time)
	if d < 0 {
		d = -d
	}
	return d
}
