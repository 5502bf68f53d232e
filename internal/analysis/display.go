package analysis

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"trailstats/internal/gps"
)

// Feature kinds of a display collection.
const (
	KindMove       = "move"
	KindPause      = "pause"
	KindPauseTrack = "pause_track"
)

// Display splits track into map layers: the moving parts, a straight line
// across each pause and the waypoints recorded inside each pause.
func Display(track gps.Track, pauses []gps.Pause) (*geojson.FeatureCollection, error) {
	if err := gps.ValidatePauses(track, pauses); err != nil {
		return nil, err
	}

	var move, direct, recorded orb.MultiLineString
	var line, inside orb.LineString
	next := 0
	for i, p := range track {
		pt := orb.Point{p.Lon, p.Lat}
		switch {
		case next == len(pauses) || i < pauses[next].IndexBefore:
			line = append(line, pt)
		case i == pauses[next].IndexBefore:
			line = append(line, pt)
			move = append(move, line)
			line = nil
			inside = orb.LineString{pt}
		case i < pauses[next].IndexAfter:
			inside = append(inside, pt)
		default:
			pause := pauses[next]
			recorded = append(recorded, append(inside, pt))
			inside = nil
			direct = append(direct, orb.LineString{
				{pause.CoordBefore.Lon, pause.CoordBefore.Lat},
				{pause.CoordAfter.Lon, pause.CoordAfter.Lat},
			})
			line = orb.LineString{pt}
			next++
		}
	}
	if len(line) > 0 {
		move = append(move, line)
	}

	fc := geojson.NewFeatureCollection()
	for _, layer := range []struct {
		kind  string
		lines orb.MultiLineString
	}{
		{KindMove, move},
		{KindPause, direct},
		{KindPauseTrack, recorded},
	} {
		lines := layer.lines
		if lines == nil {
			lines = orb.MultiLineString{}
		}
		f := geojson.NewFeature(lines)
		f.Properties["kind"] = layer.kind
		fc.Append(f)
	}
	return fc, nil
}
