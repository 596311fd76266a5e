package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"commsplan/internal/model"
	"commsplan/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3, time.Second, nil)
	w.HTTP = srv.Client()
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventTimelineCommitted, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce(context.Background())

	if gotType != EventTimelineCommitted || !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("bad signature/type headers: sig=%q type=%q", gotSig, gotType)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2, time.Second, nil)
	w.HTTP = srv.Client()
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventTimelineCommitted, srv.URL, "", []byte(`{}`))

	w.processOnce(context.Background())
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 {
		t.Fatalf("expected a retry mark, got %+v", rs.marks)
	}
	// make the retry due immediately
	if err := rs.RetryWebhookDelivery(context.Background(), "t1", id); err != nil {
		t.Fatal(err)
	}
	w.processOnce(context.Background())
	if len(rs.fails) != 1 || rs.fails[0].LastErr != "unexpected status 500" {
		t.Fatalf("expected fail recorded, got %+v", rs.fails)
	}
}

func TestPublisherEmitsToMatchingSubscriptions(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, _ = mem.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a.invalid", Events: []string{EventTimelineCommitted}, Secret: "s"})
	_, _ = mem.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b.invalid", Events: []string{EventRouteAttached}})

	n, err := NewPublisher(mem, nil).Emit(ctx, "t1", EventTimelineCommitted, map[string]string{"leg_id": "L1"})
	if err != nil || n != 1 {
		t.Fatalf("emit: n=%d err=%v", n, err)
	}
	due, _ := mem.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].URL != "http://a.invalid" || due[0].Secret != "s" {
		t.Fatalf("due = %+v", due)
	}
	var evt Event
	if err := json.Unmarshal(due[0].Payload, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != EventTimelineCommitted || evt.TenantID != "t1" || evt.ID == "" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestNextBackoffIsCapped(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatalf("unexpected backoff")
	}
	if nextBackoff(50) != time.Duration(1<<10)*time.Second {
		t.Fatalf("attempts should clamp at 10")
	}
}
