// Package timeline derives a leg's communication availability timeline from its
// route timing and transport configuration.
//
// The computation is a pure, synchronous pipeline:
//
//	Normalize -> Boundaries -> Derive -> Classify -> Coalesce -> Aggregate
//
// Compute runs all of it. Nothing in this package keeps state between calls, so
// a single RouteTimingModel may be shared by concurrent callers.
package timeline

import (
	"fmt"
	"strings"
	"time"
)

// TransportState is the availability of a single transport.
type TransportState int

const (
	StateAvailable TransportState = iota
	StateDegraded
	StateOffline
)

func (s TransportState) String() string {
	switch s {
	case StateAvailable:
		return "AVAILABLE"
	case StateDegraded:
		return "DEGRADED"
	case StateOffline:
		return "OFFLINE"
	default:
		return fmt.Sprintf("TransportState(%d)", int(s))
	}
}

// ParseTransportState accepts the String form case-insensitively.
func ParseTransportState(s string) (TransportState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AVAILABLE":
		return StateAvailable, nil
	case "DEGRADED":
		return StateDegraded, nil
	case "OFFLINE":
		return StateOffline, nil
	}
	return 0, fmt.Errorf("unknown transport state %q", s)
}

func (s TransportState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TransportState) UnmarshalText(b []byte) error {
	v, err := ParseTransportState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MissionStatus is the overall risk status implied by the three transports.
type MissionStatus int

const (
	StatusNominal MissionStatus = iota
	StatusDegraded
	StatusCritical
)

func (s MissionStatus) String() string {
	switch s {
	case StatusNominal:
		return "NOMINAL"
	case StatusDegraded:
		return "DEGRADED"
	case StatusCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("MissionStatus(%d)", int(s))
	}
}

func (s MissionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MissionStatus) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "NOMINAL":
		*s = StatusNominal
	case "DEGRADED":
		*s = StatusDegraded
	case "CRITICAL":
		*s = StatusCritical
	default:
		return fmt.Errorf("unknown mission status %q", string(b))
	}
	return nil
}

// Transport identifies one of the three data transports on the aircraft.
type Transport int

const (
	TransportX Transport = iota
	TransportKa
	TransportKu

	numTransports = 3
)

// Transports lists every transport in reporting order.
var Transports = [numTransports]Transport{TransportX, TransportKa, TransportKu}

func (t Transport) String() string {
	switch t {
	case TransportX:
		return "X"
	case TransportKa:
		return "Ka"
	case TransportKu:
		return "Ku"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

// Label is the human-readable band name used in reasons.
func (t Transport) Label() string { return t.String() + "-band" }

// ParseTransport accepts "X", "Ka", "Ku" case-insensitively, with or without a
// "-band" suffix.
func ParseTransport(s string) (Transport, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "-band") {
	case "x":
		return TransportX, nil
	case "ka":
		return TransportKa, nil
	case "ku":
		return TransportKu, nil
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

func (t Transport) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Transport) UnmarshalText(b []byte) error {
	v, err := ParseTransport(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Source names the configuration element an Interval was normalized from.
type Source string

const (
	SourceXTransition Source = "x_transition"
	SourceXHandoffGap Source = "x_handoff_gap"
	SourceKaOutage    Source = "ka_outage"
	SourceKuOverride  Source = "ku_override"
	SourceAARWindow   Source = "aar_window"
)

// Interval is a normalized, half-open [Start, End) span during which Transport
// is in State.
type Interval struct {
	Start     time.Time
	End       time.Time
	Transport Transport
	State     TransportState
	Source    Source
	Reason    string
	Satellite string // X transitions only
	Order     int    // position in the normalized list, used for tie-breaks
}

func (iv Interval) contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// SatelliteChange records the X-band antenna switching to Satellite at At.
type SatelliteChange struct {
	At        time.Time
	Satellite string
}

// Segment is a maximal contiguous span with unchanging transport states and
// mission status.
type Segment struct {
	StartTime          time.Time      `json:"start_time"`
	EndTime            time.Time      `json:"end_time"`
	Status             MissionStatus  `json:"status"`
	XState             TransportState `json:"x_state"`
	KaState            TransportState `json:"ka_state"`
	KuState            TransportState `json:"ku_state"`
	Reasons            []string       `json:"reasons"`
	ImpactedTransports []Transport    `json:"impacted_transports"`
	XSatellites        []string       `json:"x_satellites,omitempty"`
	KaSatellites       []string       `json:"ka_satellites,omitempty"`
}

// Duration is EndTime - StartTime.
func (s Segment) Duration() time.Duration { return s.EndTime.Sub(s.StartTime) }

// State returns the segment's state for t.
func (s Segment) State(t Transport) TransportState {
	switch t {
	case TransportKa:
		return s.KaState
	case TransportKu:
		return s.KuState
	default:
		return s.XState
	}
}

// Statistics are per-status duration totals for a leg, in seconds.
type Statistics struct {
	TotalDurationSeconds    float64 `json:"total_duration_seconds"`
	NominalDurationSeconds  float64 `json:"nominal_duration_seconds"`
	DegradedDurationSeconds float64 `json:"degraded_duration_seconds"`
	CriticalDurationSeconds float64 `json:"critical_duration_seconds"`
}

// Timeline covers exactly [leg start, leg end] with contiguous segments.
type Timeline struct {
	Segments   []Segment  `json:"segments"`
	Statistics Statistics `json:"statistics"`
}

// Result is what Compute returns: the timeline plus non-fatal warnings.
type Result struct {
	Timeline Timeline `json:"timeline"`
	Warnings []string `json:"warnings"`
}
