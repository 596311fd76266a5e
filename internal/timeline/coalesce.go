package timeline

import (
	"fmt"
	"slices"
	"time"
)

// Coalesce merges consecutive classified candidates with the same status and
// transport states into segments. Each segment starts where the previous one
// ended.
func Coalesce(cands []Candidate, kaSatellites []string) []Segment {
	segs := make([]Segment, 0, len(cands))
	for _, c := range cands {
		if n := len(segs); n > 0 && sameKey(segs[n-1], c) {
			last := &segs[n-1]
			last.EndTime = c.End
			for _, r := range c.Reasons {
				if !slices.Contains(last.Reasons, r) {
					last.Reasons = append(last.Reasons, r)
				}
			}
			if c.XSatellite != "" && (len(last.XSatellites) == 0 || last.XSatellites[len(last.XSatellites)-1] != c.XSatellite) {
				last.XSatellites = append(last.XSatellites, c.XSatellite)
			}
			continue
		}
		start := c.Start
		if n := len(segs); n > 0 {
			start = segs[n-1].EndTime
		}
		seg := Segment{
			StartTime:          start,
			EndTime:            c.End,
			Status:             c.Status,
			XState:             c.States[TransportX],
			KaState:            c.States[TransportKa],
			KuState:            c.States[TransportKu],
			Reasons:            append([]string{}, c.Reasons...),
			ImpactedTransports: append([]Transport{}, c.Impacted...),
		}
		if c.XSatellite != "" {
			seg.XSatellites = []string{c.XSatellite}
		}
		if len(kaSatellites) > 0 {
			seg.KaSatellites = append([]string(nil), kaSatellites...)
		}
		segs = append(segs, seg)
	}
	return segs
}

func sameKey(s Segment, c Candidate) bool {
	return s.Status == c.Status &&
		s.XState == c.States[TransportX] &&
		s.KaState == c.States[TransportKa] &&
		s.KuState == c.States[TransportKu]
}

// Aggregate sums segment durations per status and checks that the segments
// cover [start, end] exactly. A failed check yields a *ConsistencyError.
func Aggregate(segs []Segment, start, end time.Time) (Statistics, error) {
	var total, nominal, degraded, critical time.Duration
	if len(segs) == 0 {
		return Statistics{}, &ConsistencyError{Detail: "no segments"}
	}
	if !segs[0].StartTime.Equal(start) {
		return Statistics{}, &ConsistencyError{Detail: fmt.Sprintf("first segment starts at %s, leg at %s", segs[0].StartTime, start)}
	}
	for i, s := range segs {
		if i > 0 && !s.StartTime.Equal(segs[i-1].EndTime) {
			return Statistics{}, &ConsistencyError{Detail: fmt.Sprintf("segment %d starts at %s, previous ended at %s", i, s.StartTime, segs[i-1].EndTime)}
		}
		d := s.Duration()
		if d <= 0 {
			return Statistics{}, &ConsistencyError{Detail: fmt.Sprintf("segment %d has non-positive duration %s", i, d)}
		}
		total += d
		switch s.Status {
		case StatusNominal:
			nominal += d
		case StatusDegraded:
			degraded += d
		case StatusCritical:
			critical += d
		}
	}
	if !segs[len(segs)-1].EndTime.Equal(end) {
		return Statistics{}, &ConsistencyError{Detail: fmt.Sprintf("last segment ends at %s, leg at %s", segs[len(segs)-1].EndTime, end)}
	}
	if total != end.Sub(start) || nominal+degraded+critical != total {
		return Statistics{}, &ConsistencyError{Detail: fmt.Sprintf("total %s does not match leg duration %s", total, end.Sub(start))}
	}
	return Statistics{
		TotalDurationSeconds:    total.Seconds(),
		NominalDurationSeconds:  nominal.Seconds(),
		DegradedDurationSeconds: degraded.Seconds(),
		CriticalDurationSeconds: critical.Seconds(),
	}, nil
}
