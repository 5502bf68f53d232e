package gps

import "fmt"

// CalculateDistance returns the distance moved along track in meters.
// Waypoints strictly inside a pause add nothing, and the jump from a pause's
// first to its last waypoint is not counted either.
func CalculateDistance(track Track, pauses []Pause) (float64, error) {
	if err := ValidatePauses(track, pauses); err != nil {
		return 0, err
	}
	if len(track) == 0 {
		return 0, nil
	}

	var total float64
	last := track[0]
	next := 0
	for i, p := range track {
		if next >= len(pauses) || i <= pauses[next].IndexBefore {
			total += Distance(last, p)
			last = p
			continue
		}
		if i < pauses[next].IndexAfter {
			continue
		}
		last = p
		next++
	}
	return total, nil
}

// ValidatePauses checks that pauses are ordered, non-overlapping and inside
// the bounds of track.
func ValidatePauses(track Track, pauses []Pause) error {
	prevAfter := -1
	for i, p := range pauses {
		switch {
		case p.IndexBefore <= prevAfter:
			return fmt.Errorf("%w: pause %d starts at %d before previous end %d", ErrPauseIndex, i, p.IndexBefore, prevAfter)
		case p.IndexAfter <= p.IndexBefore:
			return fmt.Errorf("%w: pause %d ends at %d, not after %d", ErrPauseIndex, i, p.IndexAfter, p.IndexBefore)
		case p.IndexAfter >= len(track):
			return fmt.Errorf("%w: pause %d ends at %d beyond %d waypoints", ErrPauseIndex, i, p.IndexAfter, len(track))
		}
		prevAfter = p.IndexAfter
	}
	return nil
}

// MovingSegments splits track into the pieces between pauses. Each piece
// runs from the end of one pause to the start of the next, both included.
func MovingSegments(track Track, pauses []Pause) []Track {
	var out []Track
	start := 0
	for _, p := range pauses {
		out = append(out, track[start:p.IndexBefore+1])
		start = p.IndexAfter
	}
	if start < len(track) {
		out = append(out, track[start:])
	}
	return out
}
