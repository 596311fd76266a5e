package store

import (
    "context"
    "slices"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "commsplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    missions map[string]model.Mission          // id -> mission
    byTen    map[string][]string               // tenant -> mission ids, creation order
    legs     map[string]model.Leg              // id -> leg
    subs     map[string][]model.Subscription   // tenant -> subscriptions
    // Webhooks queue state
    deliveries         map[string]*memDelivery // id -> delivery state
    deliveriesByTenant map[string][]string     // tenant -> delivery ids
    order              []string                // delivery ids, enqueue order
    dlq                []map[string]any        // dead-lettered deliveries
    now                func() time.Time
}

func NewMemory() *Memory {
    return &Memory{
        missions:           map[string]model.Mission{},
        byTen:              map[string][]string{},
        legs:               map[string]model.Leg{},
        subs:               map[string][]model.Subscription{},
        deliveries:         map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        now:                func() time.Time { return time.Now().UTC() },
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateMission(ctx context.Context, tenantID string, in model.MissionIn) (model.Mission, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ms := model.Mission{ID: uuid.New().String(), TenantID: tenantID, Name: in.Name, CreatedAt: m.now()}
    m.missions[ms.ID] = ms
    m.byTen[tenantID] = append(m.byTen[tenantID], ms.ID)
    return m.missionWithLegs(ms), nil
}

func (m *Memory) GetMission(ctx context.Context, tenantID, id string) (model.Mission, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ms, ok := m.missions[id]
    if !ok || ms.TenantID != tenantID { return model.Mission{}, ErrNotFound }
    return m.missionWithLegs(ms), nil
}

func (m *Memory) ListMissions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Mission, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.byTen[tenantID]
    start := 0
    if cursor != "" {
        for i := range ids { if ids[i] == cursor { start = i + 1; break } }
    }
    limit = pageSize(limit)
    end := min(start+limit, len(ids))
    out := make([]model.Mission, 0, end-start)
    for _, id := range ids[start:end] {
        out = append(out, m.missionWithLegs(m.missions[id]))
    }
    next := ""
    if end < len(ids) { next = ids[end-1] }
    return out, next, nil
}

// missionWithLegs fills LegIDs in Seq order. Caller holds m.mu.
func (m *Memory) missionWithLegs(ms model.Mission) model.Mission {
    legs := m.legsOf(ms.TenantID, ms.ID)
    ms.LegIDs = make([]string, 0, len(legs))
    for _, l := range legs { ms.LegIDs = append(ms.LegIDs, l.ID) }
    return ms
}

func (m *Memory) legsOf(tenantID, missionID string) []model.Leg {
    var out []model.Leg
    for _, l := range m.legs {
        if l.TenantID == tenantID && l.MissionID == missionID { out = append(out, cloneLeg(l)) }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
    return out
}

func (m *Memory) CreateLeg(ctx context.Context, tenantID, missionID string, in model.LegIn) (model.Leg, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ms, ok := m.missions[missionID]
    if !ok || ms.TenantID != tenantID { return model.Leg{}, ErrNotFound }
    seq := len(m.legsOf(tenantID, missionID)) + 1
    l := model.Leg{
        ID:                   uuid.New().String(),
        TenantID:             tenantID,
        MissionID:            missionID,
        Seq:                  seq,
        Name:                 in.Name,
        DepartureTime:        in.DepartureTime.UTC(),
        TotalDurationSeconds: in.TotalDurationSeconds,
        Version:              1,
        UpdatedAt:            m.now(),
    }
    m.legs[l.ID] = l
    return cloneLeg(l), nil
}

func (m *Memory) GetLeg(ctx context.Context, tenantID, id string) (model.Leg, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    l, ok := m.legs[id]
    if !ok || l.TenantID != tenantID { return model.Leg{}, ErrNotFound }
    return cloneLeg(l), nil
}

func (m *Memory) ListLegs(ctx context.Context, tenantID, missionID string) ([]model.Leg, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ms, ok := m.missions[missionID]
    if !ok || ms.TenantID != tenantID { return nil, ErrNotFound }
    out := m.legsOf(tenantID, missionID)
    if out == nil { out = []model.Leg{} }
    return out, nil
}

func (m *Memory) AttachRoute(ctx context.Context, tenantID, legID string, route []model.Waypoint) (model.Leg, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    l, ok := m.legs[legID]
    if !ok || l.TenantID != tenantID { return model.Leg{}, ErrNotFound }
    if len(l.Route) > 0 { return model.Leg{}, ErrRouteAttached }
    l.Route = slices.Clone(route)
    l.RouteVersion++
    l.UpdatedAt = m.now()
    m.legs[legID] = l
    return cloneLeg(l), nil
}

func (m *Memory) CommitTransports(ctx context.Context, tenantID, legID string, cfg model.TransportConfig, departure *time.Time, expectedVersion int) (model.Leg, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    l, ok := m.legs[legID]
    if !ok || l.TenantID != tenantID { return model.Leg{}, ErrNotFound }
    if expectedVersion > 0 && l.Version != expectedVersion { return model.Leg{}, ErrVersionConflict }
    l.Transports = cloneTransports(cfg)
    if departure != nil { l.DepartureTime = departure.UTC() }
    l.Version++
    l.UpdatedAt = m.now()
    m.legs[legID] = l
    return cloneLeg(l), nil
}

func cloneLeg(l model.Leg) model.Leg {
    l.Route = slices.Clone(l.Route)
    l.Transports = cloneTransports(l.Transports)
    return l
}

func cloneTransports(c model.TransportConfig) model.TransportConfig {
    c.InitialKaSatelliteIDs = slices.Clone(c.InitialKaSatelliteIDs)
    c.XTransitions = slices.Clone(c.XTransitions)
    c.KaOutages = slices.Clone(c.KaOutages)
    c.KuOverrides = slices.Clone(c.KuOverrides)
    c.AARWindows = slices.Clone(c.AARWindows)
    return c
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: slices.Clone(req.Events), Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        if slices.Contains(s.Events, eventType) { out = append(out, s) }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i + 1; break } }
    }
    end := min(start+pageSize(limit), len(list))
    items := append([]model.Subscription{}, list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    if len(out) == len(arr) { return ErrNotFound }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending}, NextAttemptAt: m.now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    m.order = append(m.order, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := m.now()
    out := []WebhookDelivery{}
    for _, id := range m.order {
        d := m.deliveries[id]
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
            out = append(out, d.view())
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := m.now()
        d.DeliveredAt = &now
        return nil
    }
    d.Status = DeliveryRetry
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = m.now().Add(time.Minute) }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryFailed
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    m.dlq = append(m.dlq, map[string]any{"id": id, "last_error": lastError, "response_code": responseCode, "latency_ms": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.deliveriesByTenant[tenantID]
    start := 0
    if cursor != "" {
        for i := range ids { if ids[i] == cursor { start = i + 1; break } }
    }
    limit = pageSize(limit)
    out := []WebhookDelivery{}
    next := ""
    for _, id := range ids[start:] {
        d := m.deliveries[id]
        if status != "" && d.Status != status { continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, d.view())
    }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.NextAttemptAt = m.now()
    return nil
}

func (d *memDelivery) view() WebhookDelivery {
    v := d.WebhookDelivery
    if d.Status == DeliveryPending || d.Status == DeliveryRetry {
        next := d.NextAttemptAt
        v.NextAttemptAt = &next
    }
    return v
}
