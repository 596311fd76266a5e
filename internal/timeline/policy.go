package timeline

import "time"

// DefaultBoundaryEpsilon merges cut points closer than this. It is also the
// timeline resolution: interval endpoints are snapped to whole multiples of it
// from the leg start.
const DefaultBoundaryEpsilon = time.Second

// Policy is the severity table applied during normalization.
type Policy struct {
	KaOutageSeverity   TransportState `json:"ka_outage_severity"`
	KuOverrideSeverity TransportState `json:"ku_override_severity"`
	AARSeverity        TransportState `json:"aar_severity"`
	// AARTransports lists the transports an AAR window affects. Nil means all.
	AARTransports      []Transport    `json:"aar_transports"`
	HandoffGapSeverity TransportState `json:"handoff_gap_severity"`
}

// DefaultPolicy: Ka outages degrade the Ka suite, Ku overrides take Ku
// offline, AAR windows degrade every transport, and handoff gaps degrade X.
func DefaultPolicy() Policy {
	return Policy{
		KaOutageSeverity:   StateDegraded,
		KuOverrideSeverity: StateOffline,
		AARSeverity:        StateDegraded,
		HandoffGapSeverity: StateDegraded,
	}
}

func (p Policy) aarTransports() []Transport {
	if p.AARTransports == nil {
		return Transports[:]
	}
	return p.AARTransports
}

// Options tune a single Compute call.
type Options struct {
	// Policy overrides DefaultPolicy when non-nil.
	Policy *Policy
	// Lenient drops AAR windows with unknown waypoints (with a warning)
	// instead of failing the computation.
	Lenient bool
	// BoundaryEpsilon overrides DefaultBoundaryEpsilon when positive. It is
	// rounded up to whole seconds.
	BoundaryEpsilon time.Duration
}

func (o Options) policy() Policy {
	if o.Policy == nil {
		return DefaultPolicy()
	}
	return *o.Policy
}

func (o Options) epsilon() time.Duration {
	e := DefaultBoundaryEpsilon
	if o.BoundaryEpsilon > 0 {
		e = o.BoundaryEpsilon
	}
	if r := e % time.Second; r != 0 {
		e += time.Second - r
	}
	return e
}
