package gps

import "time"

// Pause is a stationary interval of a track. IndexBefore and IndexAfter are
// the track indices of the first and last waypoint kept after trimming.
type Pause struct {
	CoordBefore Coord `json:"coord_before"`
	IndexBefore int   `json:"index_before"`
	CoordAfter  Coord `json:"coord_after"`
	IndexAfter  int   `json:"index_after"`
	DurationSec int64 `json:"duration_sec"`
}

func (p Pause) Duration() time.Duration {
	return time.Duration(p.DurationSec) * time.Second
}

type PauseOptions struct {
	// ScatterRadius is the distance in meters from the anchor within which
	// waypoints belong to one cluster.
	ScatterRadius float64
	// MinClusterTime is the dwell time a cluster must exceed to be a pause.
	MinClusterTime time.Duration
	// MaxInterval bounds the gap between trimmed boundary points and is the
	// shortest pause that survives trimming.
	MaxInterval time.Duration
}

func DefaultPauseOptions() PauseOptions {
	return PauseOptions{
		ScatterRadius:  30,
		MinClusterTime: 60 * time.Second,
		MaxInterval:    8 * time.Second,
	}
}

func (o PauseOptions) withDefaults() PauseOptions {
	def := DefaultPauseOptions()
	if o.ScatterRadius <= 0 {
		o.ScatterRadius = def.ScatterRadius
	}
	if o.MinClusterTime <= 0 {
		o.MinClusterTime = def.MinClusterTime
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = def.MaxInterval
	}
	return o
}

// FindPauses returns the stationary intervals of track, ordered by index and
// non-overlapping. Waypoints without a timestamp fail with ErrCorruptTrack.
func FindPauses(track Track, opts PauseOptions) ([]Pause, error) {
	if err := track.Validate(); err != nil {
		return nil, err
	}
	if len(track) < 2 {
		return nil, nil
	}

	sc := pauseScanner{track: track, opts: opts.withDefaults()}
	var pauses []Pause
	state := scanState{phase: phaseScanning}
	for state.phase != phaseDone {
		var emitted *Pause
		state, emitted = sc.step(state)
		if emitted != nil {
			pauses = append(pauses, *emitted)
		}
	}
	return pauses, nil
}

type scanPhase int

const (
	phaseScanning scanPhase = iota
	phaseHoming
	phaseEmitting
	phaseDone
)

func (p scanPhase) String() string {
	switch p {
	case phaseScanning:
		return "scanning"
	case phaseHoming:
		return "homing"
	case phaseEmitting:
		return "emitting"
	case phaseDone:
		return "done"
	}
	return "unknown"
}

// span is the half-open index range [start, end) of a track.
type span struct {
	start, end int
}

func (s span) len() int {
	return s.end - s.start
}

// scanState is the full state of the detector between two transitions.
// The open cluster is always [anchor, next).
type scanState struct {
	phase  scanPhase
	anchor int
	next   int
	// final is set once the open cluster was closed by the end of the track.
	final bool

	best     time.Duration
	record   span
	centroid Coord
	// homeTo is the track index of the recorded member closest to centroid.
	homeTo int
}

type pauseScanner struct {
	track Track
	opts  PauseOptions
}

func (sc pauseScanner) step(s scanState) (scanState, *Pause) {
	switch s.phase {
	case phaseScanning:
		return sc.scan(s), nil
	case phaseHoming:
		return sc.home(s), nil
	case phaseEmitting:
		return sc.emit(s)
	}
	s.phase = phaseDone
	return s, nil
}

// scan consumes the waypoint at s.next. The first two members of a cluster
// are accepted regardless of distance.
func (sc pauseScanner) scan(s scanState) scanState {
	if s.next >= len(sc.track) {
		return sc.close(s, true)
	}
	p := sc.track[s.next]
	if s.next-s.anchor < 2 || Distance(sc.track[s.anchor], p) < sc.opts.ScatterRadius {
		s.next++
		return s
	}
	return sc.close(s, false)
}

// close ends the open cluster. At a boundary the dwell runs to the first
// waypoint outside the radius, at the end of the track to the last member.
func (sc pauseScanner) close(s scanState, atEnd bool) scanState {
	cluster := span{start: s.anchor, end: s.next}
	s.final = atEnd
	if cluster.len() < 2 {
		s.phase = phaseEmitting
		return s
	}

	boundary := cluster.end
	if atEnd {
		boundary = cluster.end - 1
	}
	dwell := sc.track[boundary].Time.Sub(sc.track[s.anchor].Time)
	if dwell <= s.best {
		s.phase = phaseEmitting
		return s
	}

	s.best = dwell
	s.record = cluster
	s.centroid = sc.centroid(cluster)
	s.homeTo = cluster.start + sc.closestMember(cluster, s.centroid)
	s.phase = phaseHoming
	return s
}

// home moves the anchor to the member closest to the recorded centroid.
// The dwell before the new anchor is not carried over.
func (sc pauseScanner) home(s scanState) scanState {
	s.anchor = s.homeTo
	s.next = s.homeTo
	s.final = false
	s.phase = phaseScanning
	return s
}

func (sc pauseScanner) emit(s scanState) (scanState, *Pause) {
	var out *Pause
	if s.best > sc.opts.MinClusterTime {
		if p, ok := sc.trim(s.record, s.centroid); ok {
			out = &p
		}
	}
	if s.final {
		s.phase = phaseDone
		return s, out
	}

	next := s.next
	if s.record.end > next {
		next = s.record.end
	}
	return scanState{phase: phaseScanning, anchor: next, next: next}, out
}

func (sc pauseScanner) centroid(cluster span) Coord {
	var c Coord
	for _, p := range sc.track[cluster.start:cluster.end] {
		c.Lat += p.Lat
		c.Lon += p.Lon
	}
	n := float64(cluster.len())
	c.Lat /= n
	c.Lon /= n
	return c
}

// closestMember returns the offset within cluster of the waypoint nearest to
// c. Offset 0 is never returned so that homing always moves forward.
func (sc pauseScanner) closestMember(cluster span, c Coord) int {
	members := sc.track[cluster.start:cluster.end]
	center := Point{Lat: c.Lat, Lon: c.Lon}
	best := 0
	bestDist := Distance(center, members[0])
	for i := 1; i < len(members); i++ {
		if d := Distance(center, members[i]); d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best == 0 {
		best = 1
	}
	return best
}

// trim drops boundary waypoints that approach the centroid in quick
// succession, the walk into and out of the stop.
func (sc pauseScanner) trim(cluster span, c Coord) (Pause, bool) {
	members := sc.track[cluster.start:cluster.end]
	if len(members) == 0 {
		return Pause{}, false
	}
	center := Point{Lat: c.Lat, Lon: c.Lon}

	front := 0
	for front+1 < len(members) && sc.approaches(members[front], members[front+1], center) {
		front++
	}
	back := len(members) - 1
	for back > front && sc.approaches(members[back], members[back-1], center) {
		back--
	}

	first, last := members[front], members[back]
	dur := last.Time.Sub(first.Time)
	if dur < sc.opts.MaxInterval {
		return Pause{}, false
	}
	return Pause{
		CoordBefore: first.Coord(),
		IndexBefore: cluster.start + front,
		CoordAfter:  last.Coord(),
		IndexAfter:  cluster.start + back,
		DurationSec: int64(dur / time.Second),
	}, true
}

func (sc pauseScanner) approaches(from, to, center Point) bool {
	gap := to.Time.Sub(from.Time)
	if gap < 0 {
		gap = -gap
	}
	return Distance(to, center) < Distance(from, center) && gap < sc.opts.MaxInterval
}
