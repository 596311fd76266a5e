package timeline

import "time"

// Candidate is the finest-grained span between two consecutive cut points,
// with its derived transport states.
type Candidate struct {
	Start      time.Time
	End        time.Time
	States     [numTransports]TransportState
	Causes     [numTransports]string // reason of the winning interval, if any
	XSatellite string

	Status   MissionStatus
	Reasons  []string
	Impacted []Transport
}

// Derive evaluates every transport at the midpoint of each [cuts[i], cuts[i+1])
// span. A transport not covered by any interval is AVAILABLE. Overlapping
// intervals resolve to the most severe state, then the earliest start, then
// normalized order.
func Derive(cuts []time.Time, n *Normalized) []Candidate {
	if len(cuts) < 2 {
		return nil
	}
	var byTransport [numTransports][]Interval
	for _, t := range Transports {
		byTransport[t] = n.forTransport(t)
	}

	out := make([]Candidate, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		c := Candidate{Start: cuts[i], End: cuts[i+1]}
		mid := c.Start.Add(c.End.Sub(c.Start) / 2)
		for _, t := range Transports {
			if iv, ok := winner(byTransport[t], mid); ok {
				c.States[t] = iv.State
				if iv.State != StateAvailable {
					c.Causes[t] = iv.Reason
				}
			}
		}
		c.XSatellite = satelliteAt(n, mid)
		out = append(out, c)
	}
	return out
}

func winner(ivs []Interval, at time.Time) (Interval, bool) {
	var best Interval
	found := false
	for _, iv := range ivs {
		if !iv.contains(at) {
			continue
		}
		if !found || beats(iv, best) {
			best, found = iv, true
		}
	}
	return best, found
}

func beats(a, b Interval) bool {
	if a.State != b.State {
		return a.State > b.State
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.Order < b.Order
}

// satelliteAt is the X-band satellite assigned by the last transition at or
// before t, or the initial satellite.
func satelliteAt(n *Normalized, t time.Time) string {
	sat := n.InitialXSatellite
	for _, ch := range n.XChanges {
		if ch.At.After(t) {
			break
		}
		sat = ch.Satellite
	}
	return sat
}

// Classify applies the status precedence table to c and fills in its status,
// reasons and impacted transports: any OFFLINE transport is CRITICAL, else any
// DEGRADED transport is DEGRADED, else NOMINAL.
func Classify(c *Candidate) {
	c.Status = StatusNominal
	c.Reasons = []string{}
	c.Impacted = []Transport{}
	for _, t := range Transports {
		s := c.States[t]
		if s == StateAvailable {
			continue
		}
		switch {
		case s == StateOffline:
			c.Status = StatusCritical
		case s == StateDegraded && c.Status == StatusNominal:
			c.Status = StatusDegraded
		}
		c.Impacted = append(c.Impacted, t)
		c.Reasons = append(c.Reasons, reasonFor(t, s, c.Causes[t]))
	}
}

func reasonFor(t Transport, s TransportState, cause string) string {
	if cause == "" {
		cause = "state " + s.String()
	}
	return t.Label() + ": " + cause
}
