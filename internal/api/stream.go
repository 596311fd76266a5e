package api

import (
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "commsplan/internal/auth"
    "commsplan/internal/events"
)

// heartbeatInterval keeps idle SSE and websocket connections open through
// proxies.
var heartbeatInterval = 15 * time.Second

// TimelineStreamHandler handles GET /v1/legs/{id}/timeline/stream (SSE). It
// emits a ready event with the current leg version, then one event per
// commit or route attach.
func (s *Server) TimelineStreamHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    leg, err := s.Store.GetLeg(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path); return }

    topic := events.LegTopic(leg.ID)
    ch := s.Broker.Subscribe(topic)
    defer s.Broker.Unsubscribe(topic, ch)

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.WriteHeader(http.StatusOK)
    writeSSE(w, "ready", map[string]any{"leg_id": leg.ID, "version": leg.Version})
    flusher.Flush()

    ticker := time.NewTicker(heartbeatInterval)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, open := <-ch:
            if !open { return }
            writeSSE(w, evt.Type, evt.Data)
            flusher.Flush()
        case t := <-ticker.C:
            writeSSE(w, "heartbeat", map[string]any{"leg_id": leg.ID, "ts": t.UTC().Format(time.RFC3339)})
            flusher.Flush()
        }
    }
}

func writeSSE(w http.ResponseWriter, event string, data any) {
    b, err := json.Marshal(data)
    if err != nil { b = []byte("{}") }
    fmt.Fprintf(w, "event: %s\n", event)
    fmt.Fprintf(w, "data: %s\n\n", b)
}
