package timeline

import "fmt"

// InvalidRouteError reports a route that cannot be turned into a timing model:
// fewer than two waypoints, non-increasing sequence numbers, or timestamps that
// go backwards by more than the jitter tolerance.
type InvalidRouteError struct {
	Reason string
}

func (e *InvalidRouteError) Error() string { return "invalid route: " + e.Reason }

// UnknownWaypointError reports an AAR window naming a waypoint that is not on
// the route.
type UnknownWaypointError struct {
	Window int // index into TransportConfig.AARWindows
	Name   string
}

func (e *UnknownWaypointError) Error() string {
	return fmt.Sprintf("aar window %d: unknown waypoint %q", e.Window, e.Name)
}

// InvalidIntervalError describes a configuration element that was dropped
// during normalization. It is never returned from Compute; its message is
// recorded as a warning instead.
type InvalidIntervalError struct {
	Source Source
	Index  int
	Reason string
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Source, e.Index, e.Reason)
}

// ConsistencyError means the produced segments do not cover the leg exactly.
// It indicates a bug in the pipeline, not bad input.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string { return "timeline consistency check failed: " + e.Detail }
