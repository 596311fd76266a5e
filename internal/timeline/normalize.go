package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"commsplan/internal/model"
)

// Normalized is the common representation of a transport configuration.
type Normalized struct {
	Intervals         []Interval
	XChanges          []SatelliteChange // ordered by time
	InitialXSatellite string
	KaSatellites      []string
	Warnings          []string
}

// Intervals for one transport, in normalized order.
func (n *Normalized) forTransport(t Transport) []Interval {
	var out []Interval
	for _, iv := range n.Intervals {
		if iv.Transport == t {
			out = append(out, iv)
		}
	}
	return out
}

type normalizer struct {
	m      *RouteTimingModel
	policy Policy
	out    *Normalized
	step   time.Duration
	last   time.Time // last grid point at least one step before the leg end
}

// Normalize converts every configuration element into time intervals clipped
// to the leg and snapped to the timeline grid. Dropped, clipped or widened
// elements produce warnings. The only error is
// an *UnknownWaypointError for an AAR window in strict mode.
func Normalize(m *RouteTimingModel, cfg model.TransportConfig, opts Options) (*Normalized, error) {
	n := &normalizer{
		m:      m,
		policy: opts.policy(),
		out: &Normalized{
			InitialXSatellite: cfg.InitialXSatelliteID,
			KaSatellites:      append([]string(nil), cfg.InitialKaSatelliteIDs...),
			Warnings:          []string{},
		},
		step: opts.epsilon(),
	}
	n.last = m.Start()
	if d := m.Duration() - n.step; d > 0 {
		n.last = m.Start().Add(d / n.step * n.step)
	}
	n.xTransitions(cfg.XTransitions)
	for i, o := range cfg.KaOutages {
		n.outage(SourceKaOutage, TransportKa, i, o.StartTime, o.DurationSeconds, o.Severity, n.policy.KaOutageSeverity, kaReason(o))
	}
	for i, o := range cfg.KuOverrides {
		n.outage(SourceKuOverride, TransportKu, i, o.StartTime, o.DurationSeconds, o.Severity, n.policy.KuOverrideSeverity, kuReason(o))
	}
	for i, w := range cfg.AARWindows {
		if err := n.aarWindow(i, w); err != nil {
			if !opts.Lenient {
				return nil, err
			}
			n.warn(err.Error() + "; window dropped")
		}
	}
	for i := range n.out.Intervals {
		n.out.Intervals[i].Order = i
	}
	return n.out, nil
}

type placedTransition struct {
	model.XTransition
	at    time.Time
	index int // waypoint index
	decl  int
}

func (n *normalizer) xTransitions(trs []model.XTransition) {
	placed := make([]placedTransition, 0, len(trs))
	for i, tr := range trs {
		if strings.TrimSpace(tr.TargetSatelliteID) == "" {
			n.drop(SourceXTransition, i, "target satellite is empty")
			continue
		}
		idx := n.m.NearestWaypoint(tr.Latitude, tr.Longitude)
		placed = append(placed, placedTransition{XTransition: tr, at: n.snap(n.m.TimeAtIndex(float64(idx))), index: idx, decl: i})
	}
	sort.SliceStable(placed, func(i, j int) bool {
		if !placed[i].at.Equal(placed[j].at) {
			return placed[i].at.Before(placed[j].at)
		}
		return placed[i].index < placed[j].index
	})

	for k, p := range placed {
		n.out.XChanges = append(n.out.XChanges, SatelliteChange{At: p.at, Satellite: p.TargetSatelliteID})
		end := n.m.End()
		for _, q := range placed[k+1:] {
			if q.at.After(p.at) {
				end = q.at
				break
			}
		}
		label := fmt.Sprintf("%s %d", SourceXTransition, p.decl)
		superseded := k+1 < len(placed) && placed[k+1].at.Equal(p.at)
		if !superseded && end.After(p.at) {
			if iv, ok := n.clip(Interval{
				Start:     p.at,
				End:       end,
				Transport: TransportX,
				State:     StateAvailable,
				Source:    SourceXTransition,
				Reason:    "X-band on " + p.TargetSatelliteID,
				Satellite: p.TargetSatelliteID,
			}, label); ok {
				n.out.Intervals = append(n.out.Intervals, iv)
			}
		}
		switch {
		case p.HandoffGapSeconds < 0:
			n.warn(fmt.Sprintf("%s: negative handoff gap ignored", label))
		case p.HandoffGapSeconds > 0:
			if iv, ok := n.clip(Interval{
				Start:     p.at,
				End:       p.at.Add(secondsToDuration(p.HandoffGapSeconds)),
				Transport: TransportX,
				State:     n.policy.HandoffGapSeverity,
				Source:    SourceXHandoffGap,
				Reason:    "X-band handoff to " + p.TargetSatelliteID,
			}, label+" handoff gap"); ok {
				n.out.Intervals = append(n.out.Intervals, iv)
			}
		}
	}
}

func (n *normalizer) outage(src Source, t Transport, i int, start time.Time, seconds float64, severity string, def TransportState, reason string) {
	if start.IsZero() {
		n.drop(src, i, "start time is not set")
		return
	}
	if !(seconds > 0) {
		n.drop(src, i, fmt.Sprintf("duration must be positive, got %g", seconds))
		return
	}
	state := def
	if severity != "" {
		s, err := ParseTransportState(severity)
		if err != nil {
			n.drop(src, i, err.Error())
			return
		}
		state = s
	}
	start = start.UTC()
	iv := Interval{
		Start:     start,
		End:       start.Add(secondsToDuration(seconds)),
		Transport: t,
		State:     state,
		Source:    src,
		Reason:    reason,
	}
	if iv, ok := n.clip(iv, fmt.Sprintf("%s %d", src, i)); ok {
		n.out.Intervals = append(n.out.Intervals, iv)
	}
}

func (n *normalizer) aarWindow(i int, w model.AARWindow) error {
	si, ok := n.m.WaypointIndex(w.StartWaypointName)
	if !ok {
		return &UnknownWaypointError{Window: i, Name: w.StartWaypointName}
	}
	ei, ok := n.m.WaypointIndex(w.EndWaypointName)
	if !ok {
		return &UnknownWaypointError{Window: i, Name: w.EndWaypointName}
	}
	start, end := n.m.TimeAtIndex(float64(si)), n.m.TimeAtIndex(float64(ei))
	if !end.After(start) {
		n.drop(SourceAARWindow, i, fmt.Sprintf("end waypoint %q is not after start waypoint %q", w.EndWaypointName, w.StartWaypointName))
		return nil
	}
	reason := fmt.Sprintf("AAR refueling window %s to %s", w.StartWaypointName, w.EndWaypointName)
	for _, t := range n.policy.aarTransports() {
		iv := Interval{Start: start, End: end, Transport: t, State: n.policy.AARSeverity, Source: SourceAARWindow, Reason: reason}
		if iv, ok := n.clip(iv, fmt.Sprintf("%s %d", SourceAARWindow, i)); ok {
			n.out.Intervals = append(n.out.Intervals, iv)
		}
	}
	return nil
}

// clip trims iv to the leg and snaps it to the grid. An interval with no
// overlap is dropped; one that snaps to nothing is widened to one step.
func (n *normalizer) clip(iv Interval, label string) (Interval, bool) {
	start, end := n.m.Start(), n.m.End()
	if !iv.End.After(start) || !iv.Start.Before(end) {
		n.warn(fmt.Sprintf("%s lies outside the leg [%s, %s]; dropped", label, start.Format(time.RFC3339), end.Format(time.RFC3339)))
		return iv, false
	}
	if iv.Start.Before(start) {
		n.warn(fmt.Sprintf("%s clipped to leg start", label))
		iv.Start = start
	}
	if iv.End.After(end) {
		n.warn(fmt.Sprintf("%s clipped to leg end", label))
		iv.End = end
	}
	iv.Start, iv.End = n.snap(iv.Start), n.snap(iv.End)
	if !iv.End.After(iv.Start) {
		iv.Start, iv.End = n.widen(iv.Start)
		n.warn(fmt.Sprintf("%s is shorter than the %s timeline resolution; widened", label, n.step))
	}
	return iv, true
}

// snap moves t to the nearest grid point. The grid is every whole step from
// the leg start up to n.last, plus the leg end, so any two grid points are at
// least one step apart and Boundaries never merges them.
func (n *normalizer) snap(t time.Time) time.Time {
	start, end := n.m.Start(), n.m.End()
	if !t.After(start) {
		return start
	}
	if !t.Before(end) {
		return end
	}
	s := start.Add((t.Sub(start) + n.step/2) / n.step * n.step)
	if s.After(n.last) {
		if t.Sub(n.last) < end.Sub(t) {
			return n.last
		}
		return end
	}
	return s
}

// widen returns the one-step grid span starting at s, or ending at the leg
// end when s is the leg end.
func (n *normalizer) widen(s time.Time) (time.Time, time.Time) {
	end := n.m.End()
	if !s.Before(end) {
		return n.last, end
	}
	if !s.Before(n.last) {
		return s, end
	}
	return s, s.Add(n.step)
}

func (n *normalizer) drop(src Source, i int, reason string) {
	n.warn((&InvalidIntervalError{Source: src, Index: i, Reason: reason}).Error() + "; dropped")
}

func (n *normalizer) warn(msg string) { n.out.Warnings = append(n.out.Warnings, msg) }

func kaReason(o model.KaOutage) string {
	r := "Ka outage window active"
	if o.SatelliteID != "" {
		r += " (" + o.SatelliteID + ")"
	}
	if o.Reason != "" {
		r += ": " + o.Reason
	}
	return r
}

func kuReason(o model.KuOverride) string {
	if o.Reason != "" {
		return "Ku outage window active: " + o.Reason
	}
	return "Ku outage window active"
}
