package timeline

import (
	"commsplan/internal/model"
)

// Compute builds the full timeline for a leg. It reads only its arguments and
// returns either a complete Result or an error, never a partial timeline:
// *UnknownWaypointError (strict mode) for bad AAR references, and
// *ConsistencyError if the pipeline failed to cover the leg.
func Compute(m *RouteTimingModel, cfg model.TransportConfig, opts Options) (*Result, error) {
	if m == nil {
		return nil, &InvalidRouteError{Reason: "no route timing model"}
	}
	n, err := Normalize(m, cfg, opts)
	if err != nil {
		return nil, err
	}
	cuts := Boundaries(n.Intervals, m.Start(), m.End(), opts.epsilon())
	cands := Derive(cuts, n)
	for i := range cands {
		Classify(&cands[i])
	}
	segs := Coalesce(cands, n.KaSatellites)
	stats, err := Aggregate(segs, m.Start(), m.End())
	if err != nil {
		return nil, err
	}
	return &Result{
		Timeline: Timeline{Segments: segs, Statistics: stats},
		Warnings: n.Warnings,
	}, nil
}
