package timeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commsplan/internal/model"
)

func wp(seq int, lat, lon, elapsed float64) model.Waypoint {
	return model.Waypoint{Sequence: seq, Latitude: lat, Longitude: lon, ElapsedSeconds: elapsed}
}

func TestNewRouteTimingModelRejectsBadRoutes(t *testing.T) {
	cases := []struct {
		name  string
		start time.Time
		wps   []model.Waypoint
	}{
		{"single waypoint", legStart, []model.Waypoint{wp(1, 0, 0, 0)}},
		{"zero start", time.Time{}, []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 60)}},
		{"latitude out of range", legStart, []model.Waypoint{wp(1, 91, 0, 0), wp(2, 0, 1, 60)}},
		{"sequence not increasing", legStart, []model.Waypoint{wp(2, 0, 0, 0), wp(2, 0, 1, 60)}},
		{"time runs backwards", legStart, []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 600), wp(3, 0, 2, 590)}},
		{"zero duration", legStart, []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRouteTimingModel(tc.start, 0, tc.wps, RouteOptions{})
			var ir *InvalidRouteError
			require.True(t, errors.As(err, &ir), "got %v", err)
		})
	}
}

func TestNewRouteTimingModelClampsJitter(t *testing.T) {
	wps := []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 600), wp(3, 0, 2, 599.5), wp(4, 0, 3, 1200)}
	m, err := NewRouteTimingModel(legStart, 0, wps, RouteOptions{})
	require.NoError(t, err)
	assert.True(t, m.TimeAtIndex(2).Equal(legStart.Add(600*time.Second)))

	_, err = NewRouteTimingModel(legStart, 0, wps, RouteOptions{JitterTolerance: -1})
	assert.Error(t, err)
}

func TestRouteTimingModelExplicitDuration(t *testing.T) {
	m, err := NewRouteTimingModel(legStart, 2*time.Hour, []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 3600)}, RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, m.Duration())
	assert.True(t, m.End().Equal(legStart.Add(2*time.Hour)))
}

func TestRouteTimingModelRoundsToWholeSeconds(t *testing.T) {
	m, err := NewRouteTimingModel(legStart, 0, []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 3599.6)}, RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, m.Duration())

	_, err = NewRouteTimingModel(legStart, 0, []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 0.2)}, RouteOptions{})
	var ir *InvalidRouteError
	assert.True(t, errors.As(err, &ir))
}

func TestSecondsToDurationSaturates(t *testing.T) {
	assert.Equal(t, time.Duration(math.MaxInt64), secondsToDuration(1e300))
	assert.Equal(t, time.Duration(math.MinInt64), secondsToDuration(-1e300))
	assert.Equal(t, 1500*time.Millisecond, secondsToDuration(1.5))
}

func TestTimeAtIndexInterpolatesAndClamps(t *testing.T) {
	m := fourHourRoute(t)
	assert.True(t, m.TimeAtIndex(1.5).Equal(at(1, 30)))
	assert.True(t, m.TimeAtIndex(-3).Equal(legStart))
	assert.True(t, m.TimeAtIndex(99).Equal(at(4, 0)))
}

func TestTimeAtFractionFollowsDistance(t *testing.T) {
	wps := []model.Waypoint{wp(1, 0, 0, 0), wp(2, 0, 1, 600), wp(3, 0, 4, 3600)}
	m, err := NewRouteTimingModel(legStart, 0, wps, RouteOptions{})
	require.NoError(t, err)
	assert.True(t, m.TimeAtFraction(0).Equal(legStart))
	assert.True(t, m.TimeAtFraction(1).Equal(legStart.Add(time.Hour)))
	// a quarter of the distance is exactly the second waypoint
	assert.WithinDuration(t, legStart.Add(600*time.Second), m.TimeAtFraction(0.25), time.Millisecond)
}

func TestPositionAt(t *testing.T) {
	alt0, alt1 := 1000.0, 3000.0
	wps := []model.Waypoint{
		{Sequence: 1, Latitude: 0, Longitude: 179, Altitude: &alt0, ElapsedSeconds: 0},
		{Sequence: 2, Latitude: 2, Longitude: -179, Altitude: &alt1, ElapsedSeconds: 1000},
		{Sequence: 3, Latitude: 2, Longitude: -178, ElapsedSeconds: 1000},
		{Sequence: 4, Latitude: 2, Longitude: -177, ElapsedSeconds: 2000},
	}
	m, err := NewRouteTimingModel(legStart, 0, wps, RouteOptions{})
	require.NoError(t, err)

	p := m.PositionAt(legStart.Add(250 * time.Second))
	assert.InDelta(t, 0.25, p.Index, 1e-9)
	assert.InDelta(t, 0.5, p.Latitude, 1e-9)
	assert.InDelta(t, 179.5, p.Longitude, 1e-9)
	require.NotNil(t, p.Altitude)
	assert.InDelta(t, 1500, *p.Altitude, 1e-9)
	assert.Equal(t, 1, p.NearestSequence)

	p = m.PositionAt(legStart.Add(1000 * time.Second))
	assert.Equal(t, 2, p.NearestSequence)

	p = m.PositionAt(legStart.Add(-time.Hour))
	assert.Equal(t, 1, p.NearestSequence)
}

func TestWaypointIndex(t *testing.T) {
	m := fourHourRoute(t)
	i, ok := m.WaypointIndex(" charlie ")
	require.True(t, ok)
	assert.Equal(t, 2, i)
	i, ok = m.WaypointIndex("5")
	require.True(t, ok)
	assert.Equal(t, 4, i)
	_, ok = m.WaypointIndex("")
	assert.False(t, ok)
}

func TestGreatCircleMeters(t *testing.T) {
	// one degree of longitude on the equator
	assert.InDelta(t, 111194.9, greatCircleMeters(0, 0, 0, 1), 0.1)
	assert.Equal(t, greatCircleMeters(0, 0, 0, -1), greatCircleMeters(0, 0, 0, 1))
}

func TestBoundariesMergesNearPoints(t *testing.T) {
	end := at(1, 0)
	ivs := []Interval{
		{Start: at(0, 10), End: at(0, 20)},
		{Start: at(0, 10).Add(500 * time.Millisecond), End: end.Add(-200 * time.Millisecond)},
		{Start: legStart.Add(-time.Minute), End: at(0, 20)},
	}
	cuts := Boundaries(ivs, legStart, end, time.Second)
	require.Equal(t, []time.Time{legStart, at(0, 10), at(0, 20), end}, cuts)
}

func TestAggregateDetectsGaps(t *testing.T) {
	segs := []Segment{
		{StartTime: legStart, EndTime: at(1, 0), Status: StatusNominal},
		{StartTime: at(1, 5), EndTime: at(2, 0), Status: StatusDegraded},
	}
	_, err := Aggregate(segs, legStart, at(2, 0))
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))

	segs[1].StartTime = at(1, 0)
	st, err := Aggregate(segs, legStart, at(2, 0))
	require.NoError(t, err)
	assert.Equal(t, 3600.0, st.NominalDurationSeconds)
	assert.Equal(t, 3600.0, st.DegradedDurationSeconds)
}

func TestTransportStateText(t *testing.T) {
	s, err := ParseTransportState("offline")
	require.NoError(t, err)
	assert.Equal(t, StateOffline, s)
	_, err = ParseTransportState("broken")
	assert.Error(t, err)

	b, err := StatusCritical.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", string(b))
}
