package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gorilla/websocket"

    "commsplan/internal/config"
    "commsplan/internal/events"
    "commsplan/internal/store"
)

const routeJSON = `{"waypoints":[
 {"sequence":1,"name":"ALPHA","latitude":0,"longitude":0,"elapsed_seconds":0},
 {"sequence":2,"name":"BRAVO","latitude":0,"longitude":1,"elapsed_seconds":3600},
 {"sequence":3,"name":"CHARLIE","latitude":0,"longitude":2,"elapsed_seconds":7200},
 {"sequence":4,"name":"DELTA","latitude":0,"longitude":3,"elapsed_seconds":10800},
 {"sequence":5,"name":"ECHO","latitude":0,"longitude":4,"elapsed_seconds":14400}]}`

const kaOutageJSON = `{"transports":{"ka_outages":[{"start_time":"2025-01-01T01:00:00Z","duration_seconds":1800}]}}`

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
    t.Helper()
    cfg := config.Default()
    for _, m := range mutate { m(&cfg) }
    s, err := NewServer(cfg, store.NewMemory(), events.NewMemory(), nil)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

// do sends a request through the full handler chain as tenant t1.
func do(t *testing.T, h http.Handler, method, path, role, body string, hdr ...string) *httptest.ResponseRecorder {
    t.Helper()
    req := httptest.NewRequest(method, path, strings.NewReader(body))
    if body != "" { req.Header.Set("Content-Type", "application/json") }
    if role != "" { req.Header.Set("Authorization", "Bearer t1:"+role) }
    for i := 0; i+1 < len(hdr); i += 2 { req.Header.Set(hdr[i], hdr[i+1]) }
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
    t.Helper()
    if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil { t.Fatalf("decode %s: %v", rr.Body.String(), err) }
}

// seedLeg creates a mission and a leg departing 2025-01-01T00:00Z, optionally
// with the ALPHA..ECHO route attached.
func seedLeg(t *testing.T, h http.Handler, withRoute bool) string {
    t.Helper()
    rr := do(t, h, http.MethodPost, "/v1/missions", "planner", `{"name":"OP-1"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("create mission: %d %s", rr.Code, rr.Body.String()) }
    var ms struct{ ID string `json:"id"` }
    decode(t, rr, &ms)
    rr = do(t, h, http.MethodPost, "/v1/missions/"+ms.ID+"/legs", "planner", `{"name":"outbound","departure_time":"2025-01-01T00:00:00Z"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("create leg: %d %s", rr.Code, rr.Body.String()) }
    var leg struct{ ID string `json:"id"` }
    decode(t, rr, &leg)
    if withRoute {
        rr = do(t, h, http.MethodPut, "/v1/legs/"+leg.ID+"/route", "planner", routeJSON)
        if rr.Code != http.StatusOK { t.Fatalf("attach route: %d %s", rr.Code, rr.Body.String()) }
    }
    return leg.ID
}

type timelineBody struct {
    Timeline struct {
        Segments []struct {
            Status  string `json:"status"`
            KaState string `json:"ka_state"`
        } `json:"segments"`
        Statistics struct {
            Total    float64 `json:"total_duration_seconds"`
            Degraded float64 `json:"degraded_duration_seconds"`
        } `json:"statistics"`
    } `json:"timeline"`
    Warnings []string `json:"warnings"`
}

func TestHealthReady(t *testing.T) {
    h := newTestServer(t).Handler()
    if rr := do(t, h, http.MethodGet, "/healthz", "", ""); rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    if rr := do(t, h, http.MethodGet, "/readyz", "", ""); rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestPreviewCommitRead(t *testing.T) {
    h := newTestServer(t).Handler()
    legID := seedLeg(t, h, true)

    rr := do(t, h, http.MethodPost, "/v1/legs/"+legID+"/timeline/preview", "viewer", kaOutageJSON)
    if rr.Code != http.StatusOK { t.Fatalf("preview: %d %s", rr.Code, rr.Body.String()) }
    var tb timelineBody
    decode(t, rr, &tb)
    if len(tb.Timeline.Segments) != 3 || tb.Timeline.Segments[1].Status != "DEGRADED" || tb.Timeline.Segments[1].KaState != "DEGRADED" {
        t.Fatalf("unexpected preview: %s", rr.Body.String())
    }
    if tb.Timeline.Statistics.Total != 14400 || tb.Timeline.Statistics.Degraded != 1800 {
        t.Fatalf("statistics: %+v", tb.Timeline.Statistics)
    }
    if tb.Warnings == nil { t.Fatalf("warnings must be an array, got null") }

    // preview must not touch the stored leg
    rr = do(t, h, http.MethodGet, "/v1/legs/"+legID, "viewer", "")
    etag := rr.Header().Get("ETag")
    if etag != `"1"` { t.Fatalf("ETag after preview = %s", etag) }

    rr = do(t, h, http.MethodPut, "/v1/legs/"+legID+"/transports", "viewer", kaOutageJSON)
    if rr.Code != http.StatusForbidden { t.Fatalf("viewer commit: want 403, got %d", rr.Code) }

    rr = do(t, h, http.MethodPut, "/v1/legs/"+legID+"/transports", "planner", kaOutageJSON, "If-Match", etag)
    if rr.Code != http.StatusOK { t.Fatalf("commit: %d %s", rr.Code, rr.Body.String()) }
    if got := rr.Header().Get("ETag"); got != `"2"` { t.Fatalf("ETag after commit = %s", got) }

    rr = do(t, h, http.MethodPut, "/v1/legs/"+legID+"/transports", "planner", `{"transports":{}}`, "If-Match", etag)
    if rr.Code != http.StatusConflict { t.Fatalf("stale commit: want 409, got %d", rr.Code) }

    rr = do(t, h, http.MethodGet, "/v1/legs/"+legID+"/timeline", "viewer", "")
    if rr.Code != http.StatusOK { t.Fatalf("timeline: %d", rr.Code) }
    var canonical timelineBody
    decode(t, rr, &canonical)
    if len(canonical.Timeline.Segments) != 3 { t.Fatalf("canonical timeline: %s", rr.Body.String()) }
}

func TestErrorMapping(t *testing.T) {
    h := newTestServer(t).Handler()
    legID := seedLeg(t, h, true)
    bare := seedLeg(t, h, false)
    aar := `{"transports":{"aar_windows":[{"start_waypoint_name":"BRAVO","end_waypoint_name":"ZULU"}]}}`

    cases := []struct {
        name, path, body string
        want             int
    }{
        {"malformed json", "/v1/legs/" + legID + "/timeline/preview", `{"transports":`, http.StatusBadRequest},
        {"schema violation", "/v1/legs/" + legID + "/timeline/preview", `{"transports":{"ka_outages":[{"start_time":"soon","duration_seconds":60}]}}`, http.StatusUnprocessableEntity},
        {"unknown field", "/v1/legs/" + legID + "/timeline/preview", `{"transport":{}}`, http.StatusUnprocessableEntity},
        {"unknown waypoint strict", "/v1/legs/" + legID + "/timeline/preview", aar, http.StatusUnprocessableEntity},
        {"unknown waypoint lenient", "/v1/legs/" + legID + "/timeline/preview?lenient=true", aar, http.StatusOK},
        {"bad lenient flag", "/v1/legs/" + legID + "/timeline/preview?lenient=maybe", `{}`, http.StatusUnprocessableEntity},
        {"no route", "/v1/legs/" + bare + "/timeline/preview", `{}`, http.StatusUnprocessableEntity},
        {"unknown leg", "/v1/legs/nope/timeline/preview", `{}`, http.StatusNotFound},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rr := do(t, h, http.MethodPost, tc.path, "viewer", tc.body)
            if rr.Code != tc.want { t.Fatalf("got %d, want %d: %s", rr.Code, tc.want, rr.Body.String()) }
            if tc.want >= 400 {
                var p Problem
                decode(t, rr, &p)
                if p.Status != tc.want || p.Title == "" { t.Fatalf("bad problem: %+v", p) }
            }
        })
    }

    rr := do(t, h, http.MethodPut, "/v1/legs/"+legID+"/route", "planner", routeJSON)
    if rr.Code != http.StatusConflict { t.Fatalf("second attach: want 409, got %d", rr.Code) }
    rr = do(t, h, http.MethodPut, "/v1/legs/"+bare+"/route", "planner", `{"waypoints":[{"sequence":2,"latitude":0,"longitude":0,"elapsed_seconds":0},{"sequence":1,"latitude":0,"longitude":1,"elapsed_seconds":60}]}`)
    if rr.Code != http.StatusUnprocessableEntity { t.Fatalf("out-of-order route: want 422, got %d", rr.Code) }
}

func TestAuth(t *testing.T) {
    h := newTestServer(t).Handler()
    if rr := do(t, h, http.MethodGet, "/v1/missions", "", ""); rr.Code != http.StatusUnauthorized {
        t.Fatalf("anonymous: want 401, got %d", rr.Code)
    }
    if rr := do(t, h, http.MethodGet, "/v1/missions", "", "", "X-Tenant-Id", "t1"); rr.Code != http.StatusOK {
        t.Fatalf("dev header fallback: want 200, got %d", rr.Code)
    }
    if rr := do(t, h, http.MethodGet, "/v1/subscriptions", "planner", ""); rr.Code != http.StatusForbidden {
        t.Fatalf("planner listing subscriptions: want 403, got %d", rr.Code)
    }

    strict := newTestServer(t, func(c *config.Config) { c.Auth.Mode = "hmac"; c.Auth.HMACSecret = "s3cret" }).Handler()
    if rr := do(t, strict, http.MethodGet, "/v1/missions", "admin", ""); rr.Code != http.StatusUnauthorized {
        t.Fatalf("dev token in hmac mode: want 401, got %d", rr.Code)
    }
    if rr := do(t, strict, http.MethodGet, "/v1/missions", "", "", "X-Tenant-Id", "t1"); rr.Code != http.StatusUnauthorized {
        t.Fatalf("header fallback in hmac mode: want 401, got %d", rr.Code)
    }
}

func TestTenantIsolation(t *testing.T) {
    h := newTestServer(t).Handler()
    legID := seedLeg(t, h, true)
    req := httptest.NewRequest(http.MethodGet, "/v1/legs/"+legID, nil)
    req.Header.Set("Authorization", "Bearer t2:admin")
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    if rr.Code != http.StatusNotFound { t.Fatalf("cross-tenant read: want 404, got %d", rr.Code) }
}

func TestPreviewRateLimited(t *testing.T) {
    h := newTestServer(t, func(c *config.Config) { c.Rate.RPS = 0.01; c.Rate.Burst = 1 }).Handler()
    legID := seedLeg(t, h, true)
    path := "/v1/legs/" + legID + "/timeline/preview"
    if rr := do(t, h, http.MethodPost, path, "viewer", `{}`); rr.Code != http.StatusOK { t.Fatalf("first preview: %d", rr.Code) }
    rr := do(t, h, http.MethodPost, path, "viewer", `{}`)
    if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
        t.Fatalf("second preview: want 429 with Retry-After, got %d", rr.Code)
    }
}

func TestAttachRouteCSV(t *testing.T) {
    h := newTestServer(t).Handler()
    legID := seedLeg(t, h, false)
    csv := "sequence,name,latitude,longitude,elapsed_seconds\n1,ALPHA,0,0,0\n2,BRAVO,0,1,3600\n"
    req := httptest.NewRequest(http.MethodPut, "/v1/legs/"+legID+"/route", strings.NewReader(csv))
    req.Header.Set("Content-Type", "text/csv; charset=utf-8")
    req.Header.Set("Authorization", "Bearer t1:planner")
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    if rr.Code != http.StatusOK { t.Fatalf("csv attach: %d %s", rr.Code, rr.Body.String()) }
    var leg struct {
        Route        []map[string]any `json:"route"`
        RouteVersion int              `json:"route_version"`
    }
    decode(t, rr, &leg)
    if len(leg.Route) != 2 || leg.RouteVersion != 1 { t.Fatalf("leg = %+v", leg) }
}

func TestMissionTimelinesAndSubscriptions(t *testing.T) {
    s := newTestServer(t)
    h := s.Handler()
    legID := seedLeg(t, h, true)

    rr := do(t, h, http.MethodPost, "/v1/subscriptions", "admin", `{"url":"http://hooks.invalid","events":["timeline.committed"],"secret":"k"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("subscribe: %d %s", rr.Code, rr.Body.String()) }
    if strings.Contains(rr.Body.String(), `"secret"`) { t.Fatalf("secret leaked: %s", rr.Body.String()) }

    if rr := do(t, h, http.MethodPut, "/v1/legs/"+legID+"/transports", "planner", kaOutageJSON); rr.Code != http.StatusOK {
        t.Fatalf("commit: %d", rr.Code)
    }
    rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", "admin", "")
    var dres struct{ Items []map[string]any `json:"items"` }
    decode(t, rr, &dres)
    if len(dres.Items) != 1 || dres.Items[0]["event_type"] != "timeline.committed" {
        t.Fatalf("deliveries = %s", rr.Body.String())
    }

    leg, _ := s.Store.GetLeg(context.Background(), "t1", legID)
    rr = do(t, h, http.MethodGet, "/v1/missions/"+leg.MissionID+"/timelines", "viewer", "")
    if rr.Code != http.StatusOK { t.Fatalf("mission timelines: %d", rr.Code) }
    var mt struct {
        Legs       []map[string]any   `json:"legs"`
        Statistics map[string]float64 `json:"statistics"`
    }
    decode(t, rr, &mt)
    if len(mt.Legs) != 1 || mt.Statistics["degraded_duration_seconds"] != 1800 {
        t.Fatalf("mission timelines = %s", rr.Body.String())
    }
}

func TestDocs(t *testing.T) {
    h := newTestServer(t).Handler()
    rr := do(t, h, http.MethodGet, "/openapi.json", "", "")
    if rr.Code != http.StatusOK { t.Fatalf("openapi.json: %d %s", rr.Code, rr.Body.String()) }
    var doc map[string]any
    decode(t, rr, &doc)
    if _, ok := doc["paths"].(map[string]any)["/v1/legs/{id}/timeline/preview"]; !ok {
        t.Fatalf("preview path missing from document")
    }
    if rr := do(t, h, http.MethodGet, "/docs", "", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Redoc.init") {
        t.Fatalf("docs: %d", rr.Code)
    }
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
    mu   sync.Mutex
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header { if r.hdr == nil { r.hdr = http.Header{} }; return r.hdr }
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { r.mu.Lock(); defer r.mu.Unlock(); return r.buf.Write(p) }
func (r *sseRecorder) Flush() {}
func (r *sseRecorder) contains(s string) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    return bytes.Contains(r.buf.Bytes(), []byte(s))
}

func (r *sseRecorder) waitFor(s string, d time.Duration) bool {
    deadline := time.Now().Add(d)
    for time.Now().Before(deadline) {
        if r.contains(s) { return true }
        time.Sleep(10 * time.Millisecond)
    }
    return r.contains(s)
}

func TestTimelineSSE(t *testing.T) {
    s := newTestServer(t)
    h := s.Handler()
    legID := seedLeg(t, h, true)

    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    sseReq := httptest.NewRequest(http.MethodGet, "/v1/legs/"+legID+"/timeline/stream", nil).WithContext(ctx)
    sseReq.Header.Set("Authorization", "Bearer t1:viewer")

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        h.ServeHTTP(rec, sseReq)
        close(done)
    }()
    if !rec.waitFor("event: ready", 500*time.Millisecond) { t.Fatalf("no ready event") }

    if rr := do(t, h, http.MethodPut, "/v1/legs/"+legID+"/transports", "planner", kaOutageJSON); rr.Code != http.StatusOK {
        t.Fatalf("commit: %d", rr.Code)
    }
    if !rec.waitFor("event: timeline.committed", 500*time.Millisecond) {
        t.Fatalf("SSE did not contain the commit. Body: %s", rec.buf.String())
    }
    cancel()
    select {
    case <-done:
    case <-time.After(200 * time.Millisecond):
        t.Fatal("handler did not exit after cancel")
    }
}

func TestPreviewWebSocketEchoesIDs(t *testing.T) {
    s := newTestServer(t)
    ts := httptest.NewServer(s.Handler())
    defer ts.Close()
    legID := seedLeg(t, s.Handler(), true)

    hdr := http.Header{}
    hdr.Set("Authorization", "Bearer t1:viewer")
    u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/legs/" + legID + "/preview/ws"
    c, _, err := websocket.DefaultDialer.Dial(u, hdr)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer func() { _ = c.Close() }()
    _ = c.SetReadDeadline(time.Now().Add(2 * time.Second))

    send := func(id, payload string) {
        if err := c.WriteJSON(wsMessage{Type: "preview", ID: id, Payload: json.RawMessage(payload)}); err != nil { t.Fatal(err) }
    }
    send("1", `{}`)
    send("2", kaOutageJSON)
    send("3", `{"transports":{"aar_windows":[{"start_waypoint_name":"A","end_waypoint_name":"B"}]}}`)

    want := map[string]string{"1": "result", "2": "result", "3": "error"}
    for i := 0; i < len(want); i++ {
        var msg wsMessage
        if err := c.ReadJSON(&msg); err != nil { t.Fatalf("read: %v", err) }
        if want[msg.ID] != msg.Type { t.Fatalf("message %q: got type %s payload %s", msg.ID, msg.Type, msg.Payload) }
        if msg.ID == "2" {
            var tb timelineBody
            if err := json.Unmarshal(msg.Payload, &tb); err != nil || len(tb.Timeline.Segments) != 3 {
                t.Fatalf("preview 2 payload: %s", msg.Payload)
            }
        }
        if msg.ID == "3" {
            var p Problem
            _ = json.Unmarshal(msg.Payload, &p)
            if p.Status != http.StatusUnprocessableEntity { t.Fatalf("preview 3 problem: %+v", p) }
        }
    }
}
