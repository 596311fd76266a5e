package webhooks

import (
    "bytes"
    "context"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "commsplan/internal/logging"
    "commsplan/internal/metrics"
    "commsplan/internal/store"
)

type Worker struct {
    Store       store.Store
    HTTP        *http.Client
    Log         logging.Logger
    MaxAttempts int
    Interval    time.Duration
    BatchSize   int
}

func NewWorker(s store.Store, maxAttempts int, interval time.Duration, log logging.Logger) *Worker {
    if maxAttempts <= 0 { maxAttempts = 8 }
    if interval <= 0 { interval = time.Second }
    if log == nil { log = logging.Noop() }
    return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Log: log, MaxAttempts: maxAttempts, Interval: interval, BatchSize: 50}
}

// Run polls for due deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
    ticker := time.NewTicker(w.Interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            w.processOnce(ctx)
        }
    }
}

func (w *Worker) processOnce(parent context.Context) {
    ctx, cancel := context.WithTimeout(parent, 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
    if err != nil {
        w.Log.Warn(ctx, "fetch webhook deliveries failed", logging.Err(err))
        return
    }
    for _, it := range items {
        w.deliver(ctx, it)
    }
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err != nil {
        _ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
        metrics.WebhookDeliveries.WithLabelValues(it.EventType, store.DeliveryFailed).Inc()
        return
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", it.EventType)
    req.Header.Set("X-Delivery-Id", it.ID)
    req.Header.Set("X-Delivery-Attempt", strconv.Itoa(it.Attempts+1))
    if it.Secret != "" {
        req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
    }

    start := time.Now()
    resp, err := w.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    code := 0
    success := false
    if err == nil {
        code = resp.StatusCode
        _ = resp.Body.Close()
        success = code >= 200 && code < 300
    }
    lastErr := ""
    switch {
    case err != nil:
        lastErr = err.Error()
    case !success:
        lastErr = fmt.Sprintf("unexpected status %d", code)
    }

    status := store.DeliveryDelivered
    switch {
    case success:
        err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
    case it.Attempts+1 >= w.MaxAttempts:
        status = store.DeliveryFailed
        err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
        w.Log.Warn(ctx, "webhook delivery dead-lettered",
            logging.String("delivery_id", it.ID), logging.String("event_type", it.EventType), logging.String("last_error", lastErr))
    default:
        status = store.DeliveryRetry
        next := time.Now().Add(nextBackoff(it.Attempts))
        err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
    }
    if err != nil {
        w.Log.Error(ctx, "record webhook delivery failed", logging.String("delivery_id", it.ID), logging.Err(err))
    }
    metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
    metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
