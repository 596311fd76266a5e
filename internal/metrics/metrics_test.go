package metrics

import (
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTimeline(t *testing.T) {
    okBefore := testutil.ToFloat64(TimelineComputations.WithLabelValues("preview", "ok"))
    errBefore := testutil.ToFloat64(TimelineComputations.WithLabelValues("preview", "error"))
    warnBefore := testutil.ToFloat64(TimelineWarnings)

    ObserveTimeline("preview", nil, 2*time.Millisecond, 3, 2)
    ObserveTimeline("preview", errors.New("bad"), time.Millisecond, 0, 0)

    if got := testutil.ToFloat64(TimelineComputations.WithLabelValues("preview", "ok")); got != okBefore+1 {
        t.Fatalf("ok count = %v", got)
    }
    if got := testutil.ToFloat64(TimelineComputations.WithLabelValues("preview", "error")); got != errBefore+1 {
        t.Fatalf("error count = %v", got)
    }
    if got := testutil.ToFloat64(TimelineWarnings); got != warnBefore+2 {
        t.Fatalf("warnings = %v", got)
    }
}

func TestInstrumentUsesPattern(t *testing.T) {
    mux := http.NewServeMux()
    mux.HandleFunc("GET /v1/legs/{id}", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTeapot)
    })
    h := Instrument(mux)

    before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "GET /v1/legs/{id}", "418"))
    h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/legs/abc", nil))
    h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/legs/def", nil))
    if got := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "GET /v1/legs/{id}", "418")); got != before+2 {
        t.Fatalf("requests = %v", got)
    }
}

func TestHandlerExposesRegistry(t *testing.T) {
    TimelineSegments.Observe(4)
    rec := httptest.NewRecorder()
    Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "timeline_segments_bucket") {
        t.Fatalf("metrics output missing timeline histogram: %d", rec.Code)
    }
}
