package elevation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trailstats/internal/gps"
)

// gridSampler returns value(row, col) for every pixel of a width x length
// raster.
type gridSampler struct {
	width, length int
	value         func(row, col int) uint64
}

func (g gridSampler) Dims() (int, int) { return g.width, g.length }

func (g gridSampler) ValueAt(row, col int) (uint64, error) {
	return g.value(row, col), nil
}

type fakeSource struct {
	tiles map[Cell]Sampler
	fail  map[Cell]error
	calls int
}

func (s *fakeSource) Tile(ctx context.Context, cell Cell) (Sampler, error) {
	s.calls++
	if err, ok := s.fail[cell]; ok {
		return nil, err
	}
	if t, ok := s.tiles[cell]; ok {
		return t, nil
	}
	return nil, ErrTileUnavailable
}

func eastSlope() gridSampler {
	return gridSampler{
		width:  tilePixels + 1,
		length: tilePixels + 1,
		value:  func(row, col int) uint64 { return uint64(500 + col) },
	}
}

var trackStart = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// eastward walks n points along lat from lon in steps of stepDeg.
func eastward(lat, lon, stepDeg float64, n int) gps.Track {
	track := make(gps.Track, n)
	for i := range track {
		track[i] = gps.Point{
			Lat:  lat,
			Lon:  lon + stepDeg*float64(i),
			Time: trackStart.Add(time.Duration(i) * 20 * time.Second),
		}
	}
	return track
}

func TestBuildProfileUphill(t *testing.T) {
	src := &fakeSource{tiles: map[Cell]Sampler{{Col: 38, Row: 3}: eastSlope()}}
	// 0.0008 degrees of longitude at 47.5N is about 60 m.
	track := eastward(47.5, 8.5, 0.0008, 41)

	p, err := BuildProfile(context.Background(), src, track, nil, DefaultProfileOptions())
	if err != nil {
		t.Fatalf("build profile: %v", err)
	}
	if len(p.Samples) != 21 {
		t.Fatalf("expected 21 samples, got %d", len(p.Samples))
	}
	if p.Samples[0].DistanceKm != 0 {
		t.Fatalf("expected first sample at 0 km, got %v", p.Samples[0].DistanceKm)
	}
	if p.Gain <= 0 {
		t.Fatalf("expected positive gain, got %v", p.Gain)
	}
	if p.Loss > 1e-6 {
		t.Fatalf("expected no loss, got %v", p.Loss)
	}
	if p.Max <= p.Min {
		t.Fatalf("expected max above min, got %v <= %v", p.Max, p.Min)
	}
	if src.calls != 1 {
		t.Fatalf("expected one tile request, got %d", src.calls)
	}
}

func TestBuildProfileSkipsPauses(t *testing.T) {
	src := &fakeSource{tiles: map[Cell]Sampler{{Col: 38, Row: 3}: eastSlope()}}
	track := eastward(47.5, 8.5, 0.0008, 41)
	pauses := []gps.Pause{{IndexBefore: 10, IndexAfter: 20}}

	p, err := BuildProfile(context.Background(), src, track, pauses, DefaultProfileOptions())
	if err != nil {
		t.Fatalf("build profile: %v", err)
	}
	dist, err := gps.CalculateDistance(track, pauses)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	last := p.Raw[len(p.Raw)-1].DistanceKm
	if last > dist/1000+1e-9 {
		t.Fatalf("expected samples within moving distance %v km, got %v", dist/1000, last)
	}
	if len(p.Samples) >= 21 {
		t.Fatalf("expected fewer samples than without the pause, got %d", len(p.Samples))
	}
}

func TestBuildProfileFirstTileMissing(t *testing.T) {
	cause := errors.New("no such tile")
	src := &fakeSource{fail: map[Cell]error{{Col: 38, Row: 3}: cause}}
	track := eastward(47.5, 8.5, 0.0008, 5)

	_, err := BuildProfile(context.Background(), src, track, nil, DefaultProfileOptions())
	if !errors.Is(err, ErrElevationUnavailable) {
		t.Fatalf("expected ErrElevationUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
}

func TestBuildProfileTruncatesOnLaterTile(t *testing.T) {
	src := &fakeSource{
		tiles: map[Cell]Sampler{{Col: 38, Row: 3}: eastSlope()},
		fail:  map[Cell]error{{Col: 39, Row: 3}: errors.New("missing")},
	}
	// Crosses 10E after the sixth point.
	track := eastward(47.5, 9.995, 0.0008, 20)

	p, err := BuildProfile(context.Background(), src, track, nil, DefaultProfileOptions())
	if err != nil {
		t.Fatalf("expected truncation without error, got %v", err)
	}
	if len(p.Raw) != 3 {
		t.Fatalf("expected 3 samples before the tile edge, got %d", len(p.Raw))
	}
}

func TestBuildProfileOutsideTile(t *testing.T) {
	small := gridSampler{width: 10, length: 10, value: func(int, int) uint64 { return 100 }}
	src := &fakeSource{tiles: map[Cell]Sampler{{Col: 38, Row: 3}: small}}

	p, err := BuildProfile(context.Background(), src, eastward(47.5, 8.5, 0.0008, 10), nil, DefaultProfileOptions())
	if err != nil {
		t.Fatalf("build profile: %v", err)
	}
	if len(p.Samples) != 0 || p.Gain != 0 || p.Max != 0 || p.Min != 0 {
		t.Fatalf("expected empty profile, got %+v", p)
	}
}

func TestBuildProfileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{tiles: map[Cell]Sampler{{Col: 38, Row: 3}: eastSlope()}}

	_, err := BuildProfile(ctx, src, eastward(47.5, 8.5, 0.0008, 10), nil, DefaultProfileOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildProfileBadPauses(t *testing.T) {
	src := &fakeSource{}
	pauses := []gps.Pause{{IndexBefore: 5, IndexAfter: 2}}

	_, err := BuildProfile(context.Background(), src, eastward(47.5, 8.5, 0.0008, 10), pauses, DefaultProfileOptions())
	if !errors.Is(err, gps.ErrPauseIndex) {
		t.Fatalf("expected ErrPauseIndex, got %v", err)
	}
}

func TestInterpolate(t *testing.T) {
	grid := [][]uint64{{10, 20}, {30, 40}}
	s := gridSampler{width: 2, length: 2, value: func(row, col int) uint64 { return grid[row][col] }}

	tests := []struct {
		name string
		x, y float64
		want float64
		ok   bool
	}{
		{name: "centre", x: 0.5, y: 0.5, want: 25, ok: true},
		{name: "on pixel", x: 0, y: 0, want: 10, ok: true},
		{name: "last column", x: 1, y: 0.5, want: 30, ok: true},
		{name: "last pixel", x: 1, y: 1, want: 40, ok: true},
		{name: "past last column", x: 1.5, y: 0.5, ok: false},
		{name: "before first row", x: 0.5, y: -0.25, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := interpolate(s, tt.x, tt.y)
			if err != nil {
				t.Fatalf("interpolate: %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("expected ok %v, got %v", tt.ok, ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInterpolateVoids(t *testing.T) {
	spread := gridSampler{width: 2, length: 2, value: func(row, col int) uint64 {
		if row == 1 && col == 1 {
			return 2500
		}
		return 100
	}}
	got, ok, err := interpolate(spread, 0.5, 0.5)
	if err != nil || !ok {
		t.Fatalf("interpolate: ok %v, err %v", ok, err)
	}
	if got != 0 {
		t.Fatalf("expected spread corners to zero out, got %v", got)
	}

	noData := gridSampler{width: 2, length: 2, value: func(int, int) uint64 { return 0x8000 }}
	got, _, _ = interpolate(noData, 0.5, 0.5)
	if got != 0 {
		t.Fatalf("expected no-data value to read as 0, got %v", got)
	}
}

func TestSmooth(t *testing.T) {
	flat := make([]Sample, 12)
	for i := range flat {
		flat[i] = Sample{DistanceKm: float64(i) / 10, Elevation: 420}
	}
	for i, s := range Smooth(flat) {
		if math.Abs(s.Elevation-420) > 1e-9 {
			t.Fatalf("expected flat profile to stay at 420, got %v at %d", s.Elevation, i)
		}
	}

	spike := make([]Sample, 10)
	spike[9].Elevation = 100
	out := Smooth(spike)
	if out[6].Elevation != 0 {
		t.Fatalf("expected negative result clamped to 0, got %v", out[6].Elevation)
	}
	if out[9].Elevation != 100 {
		t.Fatalf("expected edge sample unchanged, got %v", out[9].Elevation)
	}
	if spike[6].Elevation != 0 || len(out) != len(spike) {
		t.Fatalf("expected input untouched and same length")
	}

	if Smooth(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestSummarize(t *testing.T) {
	samples := []Sample{{Elevation: 100}, {Elevation: 150}, {Elevation: 120}}
	gain, loss, highest, lowest := Summarize(samples)
	if gain != 50 || loss != 30 || highest != 150 || lowest != 100 {
		t.Fatalf("expected 50/30/150/100, got %v/%v/%v/%v", gain, loss, highest, lowest)
	}

	gain, loss, highest, lowest = Summarize(nil)
	if gain != 0 || loss != 0 || highest != 0 || lowest != 0 {
		t.Fatalf("expected zeros for empty profile, got %v/%v/%v/%v", gain, loss, highest, lowest)
	}
}
