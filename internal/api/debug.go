package api

import (
    "net/http"
    "time"

    "commsplan/internal/auth"
    "commsplan/internal/buildinfo"
)

// DebugJSON reports build information and the effective non-secret
// configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.authorize(w, r, auth.RoleAdmin); !ok { return }
    cfg := s.Config
    writeJSON(w, http.StatusOK, map[string]any{
        "build": buildinfo.Get(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":             cfg.Port,
            "auth_mode":        cfg.Auth.Mode,
            "rate_rps":         cfg.Rate.RPS,
            "rate_burst":       cfg.Rate.Burst,
            "webhook_attempts": cfg.Webhook.MaxAttempts,
            "has_database_url": cfg.DatabaseURL != "",
            "has_redis_url":    cfg.RedisURL != "",
            "tracing":          cfg.Tracing.Enabled,
            "route_cache_size": cfg.Engine.RouteCacheSize,
        },
        "policy": s.Planner.Policy(),
    })
}
