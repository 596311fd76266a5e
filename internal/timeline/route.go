package timeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"commsplan/internal/model"
)

// DefaultJitterTolerance is how far a waypoint timestamp may run backwards
// before the route is rejected.
const DefaultJitterTolerance = time.Second

// tieToleranceMeters treats two waypoint distances as equal.
const tieToleranceMeters = 1e-6

type RouteOptions struct {
	// JitterTolerance bounds accepted timestamp regressions. Zero selects
	// DefaultJitterTolerance; a negative value rejects any regression.
	JitterTolerance time.Duration
}

func (o RouteOptions) jitter() time.Duration {
	switch {
	case o.JitterTolerance == 0:
		return DefaultJitterTolerance
	case o.JitterTolerance < 0:
		return 0
	}
	return o.JitterTolerance
}

// RouteTimingModel maps route positions to absolute mission time and back by
// piecewise-linear interpolation over waypoint elapsed times. It is immutable
// after construction.
type RouteTimingModel struct {
	start     time.Time
	duration  time.Duration
	waypoints []model.Waypoint
	elapsed   []time.Duration // non-decreasing after jitter clamping
	cumDist   []float64       // metres along the route at each waypoint
}

// Position is an interpolated location on the route.
type Position struct {
	Index           float64  // fractional waypoint index
	NearestSequence int      // sequence of the closest waypoint in time
	Latitude        float64
	Longitude       float64
	Altitude        *float64
}

// NewRouteTimingModel validates waypoints and builds the model for a leg that
// starts at start. A non-positive total falls back to the last waypoint's
// elapsed time.
func NewRouteTimingModel(start time.Time, total time.Duration, waypoints []model.Waypoint, opts RouteOptions) (*RouteTimingModel, error) {
	if len(waypoints) < 2 {
		return nil, &InvalidRouteError{Reason: fmt.Sprintf("need at least 2 waypoints, got %d", len(waypoints))}
	}
	if start.IsZero() {
		return nil, &InvalidRouteError{Reason: "leg start time is not set"}
	}
	tol := opts.jitter()
	m := &RouteTimingModel{
		start:     start.UTC(),
		waypoints: append([]model.Waypoint(nil), waypoints...),
		elapsed:   make([]time.Duration, len(waypoints)),
		cumDist:   make([]float64, len(waypoints)),
	}
	for i, wp := range m.waypoints {
		if math.IsNaN(wp.Latitude) || math.IsNaN(wp.Longitude) || math.Abs(wp.Latitude) > 90 || math.Abs(wp.Longitude) > 180 {
			return nil, &InvalidRouteError{Reason: fmt.Sprintf("waypoint %d has invalid coordinates (%g, %g)", wp.Sequence, wp.Latitude, wp.Longitude)}
		}
		if math.IsNaN(wp.ElapsedSeconds) || math.IsInf(wp.ElapsedSeconds, 0) {
			return nil, &InvalidRouteError{Reason: fmt.Sprintf("waypoint %d has invalid elapsed time", wp.Sequence)}
		}
		e := secondsToDuration(wp.ElapsedSeconds)
		if i == 0 {
			if e < 0 {
				return nil, &InvalidRouteError{Reason: fmt.Sprintf("waypoint %d has negative elapsed time", wp.Sequence)}
			}
			m.elapsed[0] = e
			continue
		}
		prev := m.waypoints[i-1]
		if wp.Sequence <= prev.Sequence {
			return nil, &InvalidRouteError{Reason: fmt.Sprintf("waypoint sequence %d does not follow %d", wp.Sequence, prev.Sequence)}
		}
		if e < m.elapsed[i-1] {
			if m.elapsed[i-1]-e > tol {
				return nil, &InvalidRouteError{Reason: fmt.Sprintf("waypoint %d time runs backwards by %s", wp.Sequence, m.elapsed[i-1]-e)}
			}
			e = m.elapsed[i-1]
		}
		m.elapsed[i] = e
		m.cumDist[i] = m.cumDist[i-1] + greatCircleMeters(prev.Latitude, prev.Longitude, wp.Latitude, wp.Longitude)
	}
	if total <= 0 {
		total = m.elapsed[len(m.elapsed)-1]
	}
	// Leg durations are whole seconds so per-status totals add up exactly.
	total = total.Round(time.Second)
	if total <= 0 {
		return nil, &InvalidRouteError{Reason: "leg duration must be positive"}
	}
	m.duration = total
	return m, nil
}

func (m *RouteTimingModel) Start() time.Time { return m.start }
func (m *RouteTimingModel) End() time.Time { return m.start.Add(m.duration) }
func (m *RouteTimingModel) Duration() time.Duration { return m.duration }
func (m *RouteTimingModel) Len() int { return len(m.waypoints) }
func (m *RouteTimingModel) Waypoint(i int) model.Waypoint { return m.waypoints[i] }

// TimeAtIndex returns the absolute time at a fractional waypoint index,
// clamped to the route.
func (m *RouteTimingModel) TimeAtIndex(idx float64) time.Time {
	last := len(m.elapsed) - 1
	if math.IsNaN(idx) || idx <= 0 {
		return m.start.Add(m.elapsed[0])
	}
	if idx >= float64(last) {
		return m.start.Add(m.elapsed[last])
	}
	i := int(math.Floor(idx))
	frac := idx - float64(i)
	span := m.elapsed[i+1] - m.elapsed[i]
	return m.start.Add(m.elapsed[i] + time.Duration(math.Round(frac*float64(span))))
}

// TimeAtFraction returns the absolute time at a fraction [0, 1] of the
// along-route great-circle distance.
func (m *RouteTimingModel) TimeAtFraction(f float64) time.Time {
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	last := len(m.cumDist) - 1
	total := m.cumDist[last]
	if total == 0 {
		return m.TimeAtIndex(f * float64(last))
	}
	target := f * total
	j := sort.SearchFloat64s(m.cumDist, target)
	if j == 0 {
		return m.TimeAtIndex(0)
	}
	if j > last {
		return m.TimeAtIndex(float64(last))
	}
	i := j - 1
	seg := m.cumDist[j] - m.cumDist[i]
	if seg == 0 {
		return m.TimeAtIndex(float64(i))
	}
	return m.TimeAtIndex(float64(i) + (target-m.cumDist[i])/seg)
}

// PositionAt returns the interpolated route position at t, clamped to the
// route. When several waypoints share a timestamp the earliest one wins.
func (m *RouteTimingModel) PositionAt(t time.Time) Position {
	off := t.Sub(m.start)
	last := len(m.elapsed) - 1
	if off <= m.elapsed[0] {
		return m.positionAtWaypoint(0)
	}
	if off >= m.elapsed[last] {
		j := sort.Search(len(m.elapsed), func(k int) bool { return m.elapsed[k] >= m.elapsed[last] })
		return m.positionAtWaypoint(j)
	}
	j := sort.Search(len(m.elapsed), func(k int) bool { return m.elapsed[k] >= off })
	if m.elapsed[j] == off {
		return m.positionAtWaypoint(j)
	}
	i := j - 1
	frac := float64(off-m.elapsed[i]) / float64(m.elapsed[j]-m.elapsed[i])
	a, b := m.waypoints[i], m.waypoints[j]
	p := Position{
		Index:           float64(i) + frac,
		NearestSequence: a.Sequence,
		Latitude:        lerp(a.Latitude, b.Latitude, frac),
		Longitude:       lerpLongitude(a.Longitude, b.Longitude, frac),
	}
	if frac > 0.5 {
		p.NearestSequence = b.Sequence
	}
	if a.Altitude != nil && b.Altitude != nil {
		alt := lerp(*a.Altitude, *b.Altitude, frac)
		p.Altitude = &alt
	}
	return p
}

func (m *RouteTimingModel) positionAtWaypoint(i int) Position {
	wp := m.waypoints[i]
	return Position{Index: float64(i), NearestSequence: wp.Sequence, Latitude: wp.Latitude, Longitude: wp.Longitude, Altitude: wp.Altitude}
}

// NearestWaypoint returns the index of the waypoint closest to (lat, lon) by
// great-circle distance. Ties go to the lowest sequence number.
func (m *RouteTimingModel) NearestWaypoint(lat, lon float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, wp := range m.waypoints {
		d := greatCircleMeters(lat, lon, wp.Latitude, wp.Longitude)
		if d < bestDist-tieToleranceMeters {
			best, bestDist = i, d
		}
	}
	return best
}

// WaypointIndex resolves a waypoint reference: a name (case-insensitive) or,
// failing that, a sequence number.
func (m *RouteTimingModel) WaypointIndex(ref string) (int, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, false
	}
	for i, wp := range m.waypoints {
		if wp.Name != "" && strings.EqualFold(wp.Name, ref) {
			return i, true
		}
	}
	if seq, err := strconv.Atoi(ref); err == nil {
		for i, wp := range m.waypoints {
			if wp.Sequence == seq {
				return i, true
			}
		}
	}
	return 0, false
}

// greatCircleMeters is the haversine distance on a spherical earth.
func greatCircleMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000 // metres
	rad := func(d float64) float64 { return d / 180 * math.Pi }
	φ1, φ2 := rad(lat1), rad(lat2)
	dφ, dλ := φ2-φ1, rad(lon2-lon1)
	x := sqr(math.Sin(dφ/2)) + math.Cos(φ1)*math.Cos(φ2)*sqr(math.Sin(dλ/2))
	return R * 2 * math.Atan2(math.Sqrt(x), math.Sqrt(1-x))
}

func sqr(v float64) float64 { return v * v }

func lerp(a, b, f float64) float64 { return a + (b-a)*f }

// lerpLongitude interpolates across the antimeridian the short way.
func lerpLongitude(a, b, f float64) float64 {
	d := b - a
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	v := a + d*f
	if v > 180 {
		v -= 360
	} else if v < -180 {
		v += 360
	}
	return v
}

// secondsToDuration saturates at the Duration range instead of wrapping.
func secondsToDuration(s float64) time.Duration {
	d := math.Round(s * float64(time.Second))
	switch {
	case d >= math.MaxInt64:
		return math.MaxInt64
	case d <= math.MinInt64:
		return math.MinInt64
	}
	return time.Duration(d)
}
