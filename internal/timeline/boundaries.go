package timeline

import (
	"sort"
	"time"
)

// Boundaries returns the ordered cut points of the timeline: the leg start,
// every interval start and end, and the leg end. Points closer than epsilon to
// the previously kept point, or to the leg end, are dropped. The first and last
// cut are always exactly start and end.
func Boundaries(intervals []Interval, start, end time.Time, epsilon time.Duration) []time.Time {
	pts := make([]time.Time, 0, 2*len(intervals))
	for _, iv := range intervals {
		for _, t := range [2]time.Time{iv.Start, iv.End} {
			if t.After(start) && t.Before(end) {
				pts = append(pts, t)
			}
		}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Before(pts[j]) })

	near := func(a, b time.Time) bool {
		d := b.Sub(a)
		return d == 0 || d < epsilon
	}
	cuts := make([]time.Time, 0, len(pts)+2)
	cuts = append(cuts, start)
	for _, t := range pts {
		if near(cuts[len(cuts)-1], t) || near(t, end) {
			continue
		}
		cuts = append(cuts, t)
	}
	return append(cuts, end)
}
