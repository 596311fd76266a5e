package api

import (
    "context"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "commsplan/internal/auth"
    "commsplan/internal/logging"
    "commsplan/internal/model"
)

// CreateMissionHandler handles POST /v1/missions
func (s *Server) CreateMissionHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RolePlanner)
    if !ok { return }
    body, err := readBody(w, r)
    if err != nil { s.writeError(w, r, err); return }
    var in model.MissionIn
    if err := validateBody(missionSchema, body, &in); err != nil { s.writeError(w, r, err); return }
    ms, err := s.Store.CreateMission(r.Context(), p.Tenant, in)
    if err != nil { s.writeError(w, r, err); return }
    w.Header().Set("Location", "/v1/missions/"+ms.ID)
    writeJSON(w, http.StatusCreated, ms)
}

// ListMissionsHandler handles GET /v1/missions
func (s *Server) ListMissionsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    items, next, err := s.Store.ListMissions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
    if err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
}

// GetMissionHandler handles GET /v1/missions/{id}
func (s *Server) GetMissionHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    ms, err := s.Store.GetMission(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, ms)
}

// MissionTimelinesHandler handles GET /v1/missions/{id}/timelines
func (s *Server) MissionTimelinesHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    mt, err := s.Planner.MissionTimelines(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, mt)
}

// CreateLegHandler handles POST /v1/missions/{id}/legs
func (s *Server) CreateLegHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RolePlanner)
    if !ok { return }
    body, err := readBody(w, r)
    if err != nil { s.writeError(w, r, err); return }
    var in model.LegIn
    if err := validateBody(legSchema, body, &in); err != nil { s.writeError(w, r, err); return }
    leg, err := s.Store.CreateLeg(r.Context(), p.Tenant, r.PathValue("id"), in)
    if err != nil { s.writeError(w, r, err); return }
    w.Header().Set("Location", "/v1/legs/"+leg.ID)
    w.Header().Set("ETag", etag(leg.Version))
    writeJSON(w, http.StatusCreated, leg)
}

// ListLegsHandler handles GET /v1/missions/{id}/legs
func (s *Server) ListLegsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    if _, err := s.Store.GetMission(r.Context(), p.Tenant, r.PathValue("id")); err != nil { s.writeError(w, r, err); return }
    legs, err := s.Store.ListLegs(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": legs})
}

// GetLegHandler handles GET /v1/legs/{id}
func (s *Server) GetLegHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    leg, err := s.Store.GetLeg(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }
    w.Header().Set("ETag", etag(leg.Version))
    writeJSON(w, http.StatusOK, leg)
}

// AttachRouteHandler handles PUT /v1/legs/{id}/route. JSON bodies carry
// {"waypoints": [...]}; other content types go through the matching route
// source adapter (text/csv).
func (s *Server) AttachRouteHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RolePlanner)
    if !ok { return }
    ct := r.Header.Get("Content-Type")
    var wps []model.Waypoint
    if src, found := s.Routes.ForContentType(ct); found {
        var err error
        wps, err = src.Waypoints(r.Context(), http.MaxBytesReader(w, r.Body, 8*maxBodyBytes))
        if err != nil { s.writeError(w, r, err); return }
        s.logger(r).Debug(r.Context(), "route decoded", logging.String("source", src.Name()), logging.Int("waypoints", len(wps)))
    } else {
        if ct != "" && !strings.HasPrefix(ct, "application/json") {
            writeProblem(w, http.StatusUnsupportedMediaType, "Unsupported media type", ct, r.URL.Path)
            return
        }
        body, err := readBody(w, r)
        if err != nil { s.writeError(w, r, err); return }
        var req struct {
            Waypoints []model.Waypoint `json:"waypoints"`
        }
        if err := validateBody(routeRequestSchema, body, &req); err != nil { s.writeError(w, r, err); return }
        wps = req.Waypoints
    }
    leg, err := s.Planner.AttachRoute(r.Context(), p.Tenant, r.PathValue("id"), wps)
    if err != nil { s.writeError(w, r, err); return }
    w.Header().Set("ETag", etag(leg.Version))
    writeJSON(w, http.StatusOK, leg)
}

// PreviewHandler handles POST /v1/legs/{id}/timeline/preview. Nothing is
// persisted.
func (s *Server) PreviewHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    if !s.previews.allow(limiterKey(p)) {
        w.Header().Set("Retry-After", "1")
        writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "preview rate limit exceeded", r.URL.Path)
        return
    }
    lenient, err := lenientParam(r)
    if err != nil { s.writeError(w, r, err); return }
    req, err := s.timelineRequest(w, r)
    if err != nil { s.writeError(w, r, err); return }
    res, err := s.Planner.Preview(r.Context(), p.Tenant, r.PathValue("id"), req, lenient)
    if err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, res)
}

// CommitHandler handles PUT /v1/legs/{id}/transports. If-Match carries the
// expected leg version; without it the commit is unconditional.
func (s *Server) CommitHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RolePlanner)
    if !ok { return }
    lenient, err := lenientParam(r)
    if err != nil { s.writeError(w, r, err); return }
    expected, err := ifMatchVersion(r)
    if err != nil { s.writeError(w, r, err); return }
    req, err := s.timelineRequest(w, r)
    if err != nil { s.writeError(w, r, err); return }
    leg, res, err := s.Planner.Commit(r.Context(), p.Tenant, r.PathValue("id"), req, expected, lenient)
    if err != nil { s.writeError(w, r, err); return }
    w.Header().Set("ETag", etag(leg.Version))
    writeJSON(w, http.StatusOK, map[string]any{
        "leg":      leg,
        "timeline": res.Timeline,
        "warnings": res.Warnings,
    })
}

// TimelineHandler handles GET /v1/legs/{id}/timeline
func (s *Server) TimelineHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    leg, res, err := s.Planner.Timeline(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }
    w.Header().Set("ETag", etag(leg.Version))
    writeJSON(w, http.StatusOK, res)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks store connectivity (and the broker's, when it can be
// pinged).
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store: "+err.Error(), r.URL.Path)
        return
    }
    type pinger interface{ Ping(ctx context.Context) error }
    if b, ok := s.Broker.(pinger); ok {
        if err := b.Ping(ctx); err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) timelineRequest(w http.ResponseWriter, r *http.Request) (model.TimelineRequest, error) {
    var req model.TimelineRequest
    body, err := readBody(w, r)
    if err != nil { return req, err }
    err = validateBody(timelineRequestSchema, body, &req)
    return req, err
}

func lenientParam(r *http.Request) (bool, error) {
    v := r.URL.Query().Get("lenient")
    if v == "" { return false, nil }
    b, err := strconv.ParseBool(v)
    if err != nil { return false, invalidf("lenient: %q is not a boolean", v) }
    return b, nil
}

// ifMatchVersion parses If-Match: "3" (quotes and a weak prefix are
// tolerated). A missing header yields 0.
func ifMatchVersion(r *http.Request) (int, error) {
    v := strings.TrimSpace(r.Header.Get("If-Match"))
    if v == "" || v == "*" { return 0, nil }
    v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
    n, err := strconv.Atoi(v)
    if err != nil || n <= 0 { return 0, invalidf("If-Match: %q is not a leg version", r.Header.Get("If-Match")) }
    return n, nil
}

func etag(version int) string { return fmt.Sprintf("%q", strconv.Itoa(version)) }

func queryLimit(r *http.Request) int {
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    return limit
}

func limiterKey(p auth.Principal) string { return p.Tenant + "/" + p.Subject + "/" + p.Role }
