package gps

import (
	"errors"
	"math"
	"testing"
	"time"
)

func naiveDistance(track Track) float64 {
	var total float64
	for i := 1; i < len(track); i++ {
		total += Distance(track[i-1], track[i])
	}
	return total
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude along a meridian.
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 1, Lon: 0}
	if got := Distance(a, b); math.Abs(got-metersPerDegree) > 1e-6 {
		t.Fatalf("expected %.3f, got %.3f", metersPerDegree, got)
	}
	if got := Distance(a, a); got != 0 {
		t.Fatalf("expected 0 for identical points, got %f", got)
	}
}

func TestCalculateDistanceWithoutPauses(t *testing.T) {
	track := stopAndGo()
	got, err := CalculateDistance(track, nil)
	if err != nil {
		t.Fatalf("calculate distance: %v", err)
	}
	if want := naiveDistance(track); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestCalculateDistanceExcludesPauseInterior(t *testing.T) {
	var track Track
	for i := 0; i < 15; i++ {
		track = append(track, at(float64(i)*25, float64(i%3)*4, time.Duration(i)*10*time.Second))
	}
	pauses := []Pause{{IndexBefore: 5, IndexAfter: 10, DurationSec: 50}}

	got, err := CalculateDistance(track, pauses)
	if err != nil {
		t.Fatalf("calculate distance: %v", err)
	}
	total := naiveDistance(track)
	var excluded float64
	for i := 5; i < 10; i++ {
		excluded += Distance(track[i], track[i+1])
	}
	if got >= total {
		t.Fatalf("expected pause-aware distance below %f, got %f", total, got)
	}
	if math.Abs(got-(total-excluded)) > 1e-6 {
		t.Fatalf("expected %f, got %f", total-excluded, got)
	}
}

func TestCalculateDistanceMatchesMovingSegments(t *testing.T) {
	track := stopAndGo()
	pauses, err := FindPauses(track, DefaultPauseOptions())
	if err != nil {
		t.Fatalf("find pauses: %v", err)
	}
	if len(pauses) == 0 {
		t.Fatalf("expected a pause in the fixture")
	}

	got, err := CalculateDistance(track, pauses)
	if err != nil {
		t.Fatalf("calculate distance: %v", err)
	}
	var want float64
	for _, seg := range MovingSegments(track, pauses) {
		want += naiveDistance(seg)
	}
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestCalculateDistanceRejectsBadPauses(t *testing.T) {
	track := stopAndGo()
	cases := []struct {
		name   string
		pauses []Pause
	}{
		{name: "reversed", pauses: []Pause{{IndexBefore: 10, IndexAfter: 5}}},
		{name: "overlap", pauses: []Pause{{IndexBefore: 2, IndexAfter: 8}, {IndexBefore: 8, IndexAfter: 12}}},
		{name: "out of bounds", pauses: []Pause{{IndexBefore: 60, IndexAfter: 70}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := CalculateDistance(track, tc.pauses); !errors.Is(err, ErrPauseIndex) {
				t.Fatalf("expected ErrPauseIndex, got %v", err)
			}
		})
	}
}

func TestMovingSegments(t *testing.T) {
	track := stopAndGo()
	segs := MovingSegments(track, []Pause{{IndexBefore: 21, IndexAfter: 49}})
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if len(segs[0]) != 22 || len(segs[1]) != len(track)-49 {
		t.Fatalf("unexpected segment lengths %d and %d", len(segs[0]), len(segs[1]))
	}
}
