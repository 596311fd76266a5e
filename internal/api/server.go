// Package api implements the HTTP surface of the communications planning
// service.
package api

import (
    "net/http"
    "time"

    "commsplan/internal/auth"
    "commsplan/internal/config"
    "commsplan/internal/events"
    "commsplan/internal/integrations"
    "commsplan/internal/integrations/csvroute"
    "commsplan/internal/logging"
    "commsplan/internal/metrics"
    "commsplan/internal/planner"
    "commsplan/internal/store"
    "commsplan/internal/webhooks"
)

type Server struct {
    Store   store.Store
    Planner *planner.Service
    Pub     *webhooks.Publisher
    Auth    *auth.Verifier
    Broker  events.Broker
    Routes  *integrations.Registry
    Log     logging.Logger
    Config  config.Config

    previews *limiterSet
}

// NewServer wires the planner, webhook publisher and verifier around st and
// broker.
func NewServer(cfg config.Config, st store.Store, broker events.Broker, log logging.Logger) (*Server, error) {
    if log == nil {
        log = logging.Noop()
    }
    if broker == nil {
        broker = events.NewMemory()
    }
    pub := webhooks.NewPublisher(st, log)
    svc, err := planner.New(st, broker, pub, cfg.Engine, log)
    if err != nil {
        return nil, err
    }
    return &Server{
        Store:    st,
        Planner:  svc,
        Pub:      pub,
        Auth:     auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.TenantClaim, cfg.Auth.RoleClaim),
        Broker:   broker,
        Routes:   integrations.NewRegistry(csvroute.Adapter{}),
        Log:      log,
        Config:   cfg,
        previews: newLimiterSet(cfg.Rate.RPS, cfg.Rate.Burst),
    }, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Config.Webhook.MaxAttempts, s.Config.Webhook.PollInterval, s.Log)
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()

    // Missions
    mux.HandleFunc("POST /v1/missions", s.CreateMissionHandler)
    mux.HandleFunc("GET /v1/missions", s.ListMissionsHandler)
    mux.HandleFunc("GET /v1/missions/{id}", s.GetMissionHandler)
    mux.HandleFunc("GET /v1/missions/{id}/timelines", s.MissionTimelinesHandler)
    mux.HandleFunc("POST /v1/missions/{id}/legs", s.CreateLegHandler)
    mux.HandleFunc("GET /v1/missions/{id}/legs", s.ListLegsHandler)

    // Legs and timelines
    mux.HandleFunc("GET /v1/legs/{id}", s.GetLegHandler)
    mux.HandleFunc("PUT /v1/legs/{id}/route", s.AttachRouteHandler)
    mux.HandleFunc("POST /v1/legs/{id}/timeline/preview", s.PreviewHandler)
    mux.HandleFunc("PUT /v1/legs/{id}/transports", s.CommitHandler)
    mux.HandleFunc("GET /v1/legs/{id}/timeline", s.TimelineHandler)
    mux.HandleFunc("GET /v1/legs/{id}/timeline/stream", s.TimelineStreamHandler)
    mux.HandleFunc("GET /v1/legs/{id}/preview/ws", s.PreviewWSHandler)

    // Subscriptions and webhook admin
    mux.HandleFunc("POST /v1/subscriptions", s.CreateSubscriptionHandler)
    mux.HandleFunc("GET /v1/subscriptions", s.ListSubscriptionsHandler)
    mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.DeleteSubscriptionHandler)
    mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
    mux.HandleFunc("POST /v1/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)

    // Ops
    mux.HandleFunc("GET /healthz", s.HealthHandler)
    mux.HandleFunc("GET /readyz", s.ReadyHandler)
    mux.Handle("GET /metrics", metrics.Handler())
    mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
    mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
    mux.HandleFunc("GET /docs", s.DocsHandler)
    mux.HandleFunc("GET /debug/vars.json", s.DebugJSON)

    return s.logMiddleware(metrics.Instrument(mux))
}

// logMiddleware attaches a request-scoped logger carrying request_id.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        ctx := r.Context()
        if id := r.Header.Get("X-Request-Id"); id != "" {
            ctx = logging.ContextWithRequestID(ctx, id)
        }
        ctx, log := logging.WithRequestLogger(ctx, s.Log)
        ctx = logging.ContextWithLogger(ctx, log)
        w.Header().Set("X-Request-Id", logging.RequestIDFromContext(ctx))
        next.ServeHTTP(w, r.WithContext(ctx))
        log.Debug(ctx, "request",
            logging.String("method", r.Method),
            logging.String("path", r.URL.Path),
            logging.Any("duration", time.Since(start)))
    })
}

func (s *Server) logger(r *http.Request) logging.Logger {
    return logging.FromContext(r.Context(), s.Log)
}
