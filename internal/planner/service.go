// Package planner sits between the HTTP layer and the timeline engine. It
// loads legs from the store, builds (and caches) route timing models, runs the
// engine and fans committed results out to live subscribers and webhooks.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"commsplan/internal/config"
	"commsplan/internal/events"
	"commsplan/internal/logging"
	"commsplan/internal/metrics"
	"commsplan/internal/model"
	"commsplan/internal/observability"
	"commsplan/internal/store"
	"commsplan/internal/timeline"
	"commsplan/internal/webhooks"
)

// Computation modes, used as metric and span labels.
const (
	ModePreview = "preview"
	ModeCommit  = "commit"
	ModeRead    = "read"
)

// missionFanOut bounds concurrent leg computations in MissionTimelines.
const missionFanOut = 4

// Publisher is the part of events.Broker the planner needs.
type Publisher interface {
	Publish(topic string, evt events.Event)
}

type modelKey struct {
	legID        string
	routeVersion int
	departure    int64
	total        float64
}

type Service struct {
	Store  store.Store
	Events Publisher
	Hooks  *webhooks.Publisher
	Log    logging.Logger

	engine config.EngineConfig
	policy timeline.Policy
	models *lru.Cache[modelKey, *timeline.RouteTimingModel]
	tracer trace.Tracer
}

// New resolves the engine policy and allocates the route model cache. ev and
// hooks may be nil.
func New(st store.Store, ev Publisher, hooks *webhooks.Publisher, eng config.EngineConfig, log logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.Noop()
	}
	policy, err := eng.Policy.Policy()
	if err != nil {
		return nil, err
	}
	size := eng.RouteCacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[modelKey, *timeline.RouteTimingModel](size)
	if err != nil {
		return nil, fmt.Errorf("route model cache: %w", err)
	}
	return &Service{
		Store:  st,
		Events: ev,
		Hooks:  hooks,
		Log:    log,
		engine: eng,
		policy: policy,
		models: cache,
		tracer: observability.Tracer(),
	}, nil
}

// Policy returns the resolved severity table.
func (s *Service) Policy() timeline.Policy { return s.policy }

// AttachRoute validates the waypoints by building a timing model for the
// leg's departure and stores them. Routes are immutable once attached.
func (s *Service) AttachRoute(ctx context.Context, tenantID, legID string, wps []model.Waypoint) (model.Leg, error) {
	leg, err := s.Store.GetLeg(ctx, tenantID, legID)
	if err != nil {
		return model.Leg{}, err
	}
	if _, err := timeline.NewRouteTimingModel(leg.DepartureTime, seconds(leg.TotalDurationSeconds), wps, s.routeOptions()); err != nil {
		return model.Leg{}, err
	}
	leg, err = s.Store.AttachRoute(ctx, tenantID, legID, wps)
	if err != nil {
		return model.Leg{}, err
	}
	s.Log.Info(ctx, "route attached",
		logging.String("leg_id", leg.ID), logging.Int("waypoints", len(wps)), logging.Int("route_version", leg.RouteVersion))
	data := map[string]any{"leg_id": leg.ID, "mission_id": leg.MissionID, "route_version": leg.RouteVersion, "waypoints": len(wps)}
	s.publish(leg.ID, events.TypeRouteAttached, data)
	s.emit(ctx, tenantID, webhooks.EventRouteAttached, data)
	return leg, nil
}

// Preview computes a timeline for a draft configuration without persisting
// anything.
func (s *Service) Preview(ctx context.Context, tenantID, legID string, req model.TimelineRequest, lenient bool) (*timeline.Result, error) {
	leg, err := s.Store.GetLeg(ctx, tenantID, legID)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, ModePreview, leg, req.Transports, departureFor(leg, req), lenient)
}

// Commit recomputes the timeline for req and, if that succeeds, persists the
// configuration. Invalid input is rejected before anything is written.
func (s *Service) Commit(ctx context.Context, tenantID, legID string, req model.TimelineRequest, expectedVersion int, lenient bool) (model.Leg, *timeline.Result, error) {
	leg, err := s.Store.GetLeg(ctx, tenantID, legID)
	if err != nil {
		return model.Leg{}, nil, err
	}
	if expectedVersion > 0 && expectedVersion != leg.Version {
		return model.Leg{}, nil, store.ErrVersionConflict
	}
	res, err := s.compute(ctx, ModeCommit, leg, req.Transports, departureFor(leg, req), lenient)
	if err != nil {
		return model.Leg{}, nil, err
	}
	leg, err = s.Store.CommitTransports(ctx, tenantID, legID, req.Transports, req.AdjustedDepartureTime, expectedVersion)
	if err != nil {
		return model.Leg{}, nil, err
	}
	s.Log.Info(ctx, "transports committed",
		logging.String("leg_id", leg.ID), logging.Int("version", leg.Version),
		logging.Int("segments", len(res.Timeline.Segments)), logging.Int("warnings", len(res.Warnings)))

	s.publish(leg.ID, events.TypeTimelineCommitted, map[string]any{
		"leg_id":   leg.ID,
		"version":  leg.Version,
		"timeline": res.Timeline,
		"warnings": res.Warnings,
	})
	s.emit(ctx, tenantID, webhooks.EventTimelineCommitted, map[string]any{
		"leg_id":     leg.ID,
		"mission_id": leg.MissionID,
		"version":    leg.Version,
		"statistics": res.Timeline.Statistics,
	})
	return leg, res, nil
}

// Timeline recomputes the canonical timeline from the committed
// configuration. Stored configurations may have been committed leniently, so
// reads are always lenient.
func (s *Service) Timeline(ctx context.Context, tenantID, legID string) (model.Leg, *timeline.Result, error) {
	leg, err := s.Store.GetLeg(ctx, tenantID, legID)
	if err != nil {
		return model.Leg{}, nil, err
	}
	res, err := s.compute(ctx, ModeRead, leg, leg.Transports, leg.DepartureTime, true)
	if err != nil {
		return model.Leg{}, nil, err
	}
	return leg, res, nil
}

// LegTimeline is one leg's entry in a mission-wide recomputation. Error is
// set instead of Result when the leg cannot be computed from its own input
// (no route yet, for example).
type LegTimeline struct {
	LegID   string           `json:"leg_id"`
	Seq     int              `json:"seq"`
	Version int              `json:"version"`
	Result  *timeline.Result `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// MissionTimelines is the mission-wide view: per-leg results in leg order plus
// summed statistics.
type MissionTimelines struct {
	MissionID  string              `json:"mission_id"`
	Legs       []LegTimeline       `json:"legs"`
	Statistics timeline.Statistics `json:"statistics"`
}

// MissionTimelines recomputes every leg of a mission concurrently.
func (s *Service) MissionTimelines(ctx context.Context, tenantID, missionID string) (*MissionTimelines, error) {
	if _, err := s.Store.GetMission(ctx, tenantID, missionID); err != nil {
		return nil, err
	}
	legs, err := s.Store.ListLegs(ctx, tenantID, missionID)
	if err != nil {
		return nil, err
	}
	out := &MissionTimelines{MissionID: missionID, Legs: make([]LegTimeline, len(legs))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(missionFanOut)
	for i, leg := range legs {
		g.Go(func() error {
			lt := LegTimeline{LegID: leg.ID, Seq: leg.Seq, Version: leg.Version}
			res, err := s.compute(gctx, ModeRead, leg, leg.Transports, leg.DepartureTime, true)
			switch {
			case err == nil:
				lt.Result = res
			case IsInputError(err):
				lt.Error = err.Error()
			default:
				return fmt.Errorf("leg %s: %w", leg.ID, err)
			}
			out.Legs[i] = lt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, lt := range out.Legs {
		if lt.Result == nil {
			continue
		}
		st := lt.Result.Timeline.Statistics
		out.Statistics.TotalDurationSeconds += st.TotalDurationSeconds
		out.Statistics.NominalDurationSeconds += st.NominalDurationSeconds
		out.Statistics.DegradedDurationSeconds += st.DegradedDurationSeconds
		out.Statistics.CriticalDurationSeconds += st.CriticalDurationSeconds
	}
	return out, nil
}

// IsInputError reports whether err was caused by the caller's route or
// configuration rather than by the service.
func IsInputError(err error) bool {
	var ir *timeline.InvalidRouteError
	var uw *timeline.UnknownWaypointError
	return errors.As(err, &ir) || errors.As(err, &uw)
}

func (s *Service) compute(ctx context.Context, mode string, leg model.Leg, cfg model.TransportConfig, departure time.Time, lenient bool) (*timeline.Result, error) {
	ctx, span := s.tracer.Start(ctx, "timeline.compute", trace.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("leg_id", leg.ID),
		attribute.Int("route_version", leg.RouteVersion),
		attribute.Bool("lenient", lenient),
	))
	defer span.End()

	began := time.Now()
	var res *timeline.Result
	m, err := s.routeModel(leg, departure)
	if err == nil {
		res, err = timeline.Compute(m, cfg, s.engine.Options(s.policy, lenient))
	}
	elapsed := time.Since(began)

	if err != nil {
		metrics.ObserveTimeline(mode, err, elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ce *timeline.ConsistencyError
		if errors.As(err, &ce) {
			s.Log.Error(ctx, "timeline consistency check failed",
				logging.String("leg_id", leg.ID), logging.String("mode", mode), logging.Err(err))
		} else {
			s.Log.Debug(ctx, "timeline rejected",
				logging.String("leg_id", leg.ID), logging.String("mode", mode), logging.Err(err))
		}
		return nil, err
	}
	metrics.ObserveTimeline(mode, nil, elapsed, len(res.Timeline.Segments), len(res.Warnings))
	span.SetAttributes(
		attribute.Int("segments", len(res.Timeline.Segments)),
		attribute.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// routeModel returns the cached timing model for the leg's route at
// departure, building it on a miss.
func (s *Service) routeModel(leg model.Leg, departure time.Time) (*timeline.RouteTimingModel, error) {
	if len(leg.Route) == 0 {
		return nil, &timeline.InvalidRouteError{Reason: "leg has no route attached"}
	}
	key := modelKey{legID: leg.ID, routeVersion: leg.RouteVersion, departure: departure.UnixNano(), total: leg.TotalDurationSeconds}
	if m, ok := s.models.Get(key); ok {
		metrics.RouteModelCache.WithLabelValues("hit").Inc()
		return m, nil
	}
	metrics.RouteModelCache.WithLabelValues("miss").Inc()
	m, err := timeline.NewRouteTimingModel(departure, seconds(leg.TotalDurationSeconds), leg.Route, s.routeOptions())
	if err != nil {
		return nil, err
	}
	s.models.Add(key, m)
	return m, nil
}

func (s *Service) routeOptions() timeline.RouteOptions {
	return timeline.RouteOptions{JitterTolerance: s.engine.JitterTolerance}
}

func (s *Service) publish(legID, typ string, data map[string]any) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.LegTopic(legID), events.Event{Type: typ, Data: data})
}

func (s *Service) emit(ctx context.Context, tenantID, typ string, data any) {
	if s.Hooks == nil {
		return
	}
	if _, err := s.Hooks.Emit(ctx, tenantID, typ, data); err != nil {
		s.Log.Warn(ctx, "webhook emit failed", logging.String("event_type", typ), logging.Err(err))
	}
}

func departureFor(leg model.Leg, req model.TimelineRequest) time.Time {
	if req.AdjustedDepartureTime != nil && !req.AdjustedDepartureTime.IsZero() {
		return *req.AdjustedDepartureTime
	}
	return leg.DepartureTime
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
