package api

import (
    "encoding/json"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "commsplan/internal/auth"
    "commsplan/internal/events"
    "commsplan/internal/logging"
    "commsplan/internal/model"
)

// Live preview over WebSocket. The client sends
//
//	{"type":"preview","id":"42","lenient":false,"payload":{...TimelineRequest}}
//
// and receives {"type":"result","id":"42","payload":{timeline,warnings}} or
// {"type":"error","id":"42","payload":Problem}. Replies echo the request id so
// the client can drop responses to edits it has already superseded. Commits to
// the leg are pushed as {"type":"timeline.committed","payload":...}.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const wsReadTimeout = 60 * time.Second

type wsMessage struct {
    Type    string          `json:"type"`
    ID      string          `json:"id,omitempty"`
    Lenient bool            `json:"lenient,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

// PreviewWSHandler handles GET /v1/legs/{id}/preview/ws
func (s *Server) PreviewWSHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    leg, err := s.Store.GetLeg(r.Context(), p.Tenant, r.PathValue("id"))
    if err != nil { s.writeError(w, r, err); return }

    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()
    log := s.logger(r).With(logging.String("leg_id", leg.ID))
    log.Debug(r.Context(), "preview session opened")

    var mu sync.Mutex
    write := func(v any) error {
        mu.Lock()
        defer mu.Unlock()
        _ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
        return conn.WriteJSON(v)
    }
    reply := func(typ, id string, payload any) {
        b, err := json.Marshal(payload)
        if err != nil { b = []byte("null") }
        _ = write(wsMessage{Type: typ, ID: id, Payload: b})
    }

    // forward committed timelines for this leg
    topic := events.LegTopic(leg.ID)
    ch := s.Broker.Subscribe(topic)
    defer s.Broker.Unsubscribe(topic, ch)
    done := make(chan struct{})
    defer close(done)
    go func() {
        ticker := time.NewTicker(heartbeatInterval)
        defer ticker.Stop()
        for {
            select {
            case <-done:
                return
            case evt, open := <-ch:
                if !open { return }
                reply(evt.Type, "", evt.Data)
            case <-ticker.C:
                mu.Lock()
                err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
                mu.Unlock()
                if err != nil { return }
            }
        }
    }()

    conn.SetReadLimit(maxBodyBytes)
    _ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
    conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

    for {
        var msg wsMessage
        if err := conn.ReadJSON(&msg); err != nil {
            break
        }
        _ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
        switch msg.Type {
        case "ping":
            _ = write(wsMessage{Type: "pong", ID: msg.ID})
        case "preview":
            if !s.previews.allow(limiterKey(p)) {
                reply("error", msg.ID, Problem{Type: "about:blank", Title: "Too Many Requests", Status: http.StatusTooManyRequests, Detail: "preview rate limit exceeded", Instance: r.URL.Path})
                continue
            }
            var req model.TimelineRequest
            if err := validateBody(timelineRequestSchema, msg.Payload, &req); err != nil {
                reply("error", msg.ID, s.problemFor(r, err))
                continue
            }
            res, err := s.Planner.Preview(r.Context(), p.Tenant, leg.ID, req, msg.Lenient)
            if err != nil {
                reply("error", msg.ID, s.problemFor(r, err))
                continue
            }
            reply("result", msg.ID, res)
        default:
            reply("error", msg.ID, Problem{Type: "about:blank", Title: "Unknown message type", Status: http.StatusBadRequest, Detail: msg.Type, Instance: r.URL.Path})
        }
    }
    log.Debug(r.Context(), "preview session closed")
}
