package model

import "time"

// Core domain types shared by the store, planner and HTTP layers.

type Mission struct {
    ID        string    `json:"id"`
    TenantID  string    `json:"tenant_id"`
    Name      string    `json:"name"`
    CreatedAt time.Time `json:"created_at"`
    LegIDs    []string  `json:"leg_ids,omitempty"`
}

type MissionIn struct {
    Name string `json:"name"`
}

// Leg is one point-to-point segment of a mission. Route is attached once by the
// route-geometry import and is immutable afterwards.
type Leg struct {
    ID                   string          `json:"id"`
    TenantID             string          `json:"tenant_id"`
    MissionID            string          `json:"mission_id"`
    Seq                  int             `json:"seq"`
    Name                 string          `json:"name,omitempty"`
    DepartureTime        time.Time       `json:"departure_time"`
    TotalDurationSeconds float64         `json:"total_duration_seconds,omitempty"`
    Route                []Waypoint      `json:"route,omitempty"`
    RouteVersion         int             `json:"route_version"`
    Transports           TransportConfig `json:"transports"`
    Version              int             `json:"version"`
    UpdatedAt            time.Time       `json:"updated_at"`
}

type LegIn struct {
    Name                 string    `json:"name,omitempty"`
    DepartureTime        time.Time `json:"departure_time"`
    TotalDurationSeconds float64   `json:"total_duration_seconds,omitempty"`
}

// Waypoint is a timestamped point on a leg's primary path.
type Waypoint struct {
    Sequence       int      `json:"sequence"`
    Name           string   `json:"name,omitempty"`
    Latitude       float64  `json:"latitude"`
    Longitude      float64  `json:"longitude"`
    Altitude       *float64 `json:"altitude,omitempty"`
    ElapsedSeconds float64  `json:"elapsed_seconds"`
}

// TransportConfig is the mutable input a planner edits for a leg.
type TransportConfig struct {
    InitialXSatelliteID   string        `json:"initial_x_satellite_id,omitempty"`
    InitialKaSatelliteIDs []string      `json:"initial_ka_satellite_ids,omitempty"`
    XTransitions          []XTransition `json:"x_transitions,omitempty"`
    KaOutages             []KaOutage    `json:"ka_outages,omitempty"`
    KuOverrides           []KuOverride  `json:"ku_overrides,omitempty"`
    AARWindows            []AARWindow   `json:"aar_windows,omitempty"`
}

// XTransition switches the X-band antenna to TargetSatelliteID once the route
// crosses (Latitude, Longitude).
type XTransition struct {
    Latitude          float64 `json:"latitude"`
    Longitude         float64 `json:"longitude"`
    TargetSatelliteID string  `json:"target_satellite_id"`
    HandoffGapSeconds float64 `json:"handoff_gap_seconds,omitempty"`
}

type KaOutage struct {
    StartTime       time.Time `json:"start_time"`
    DurationSeconds float64   `json:"duration_seconds"`
    SatelliteID     string    `json:"satellite_id,omitempty"`
    Severity        string    `json:"severity,omitempty"` // degraded | offline
    Reason          string    `json:"reason,omitempty"`
}

type KuOverride struct {
    StartTime       time.Time `json:"start_time"`
    DurationSeconds float64   `json:"duration_seconds"`
    Severity        string    `json:"severity,omitempty"`
    Reason          string    `json:"reason,omitempty"`
}

// AARWindow references route waypoints by name (or by sequence number).
type AARWindow struct {
    StartWaypointName string `json:"start_waypoint_name"`
    EndWaypointName   string `json:"end_waypoint_name"`
}

// TimelineRequest is the body of preview and commit calls.
type TimelineRequest struct {
    Transports            TransportConfig `json:"transports"`
    AdjustedDepartureTime *time.Time      `json:"adjusted_departure_time,omitempty"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenant_id"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenant_id"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
