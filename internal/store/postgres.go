package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "embed"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "io/fs"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "commsplan/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies embedded migrations in file-name order, recording each one in
// schema_migrations so reruns are no-ops.
func (p *Postgres) Migrate(ctx context.Context) error {
    if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
        return fmt.Errorf("create schema_migrations: %w", err)
    }
    names, err := migrationNames(migrations)
    if err != nil { return err }
    for _, name := range names {
        var exists bool
        if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&exists); err != nil {
            return err
        }
        if exists { continue }
        body, err := migrations.ReadFile("migrations/" + name)
        if err != nil { return err }
        tx, err := p.db.BeginTx(ctx, nil)
        if err != nil { return err }
        if _, err := tx.ExecContext(ctx, string(body)); err != nil {
            _ = tx.Rollback()
            return fmt.Errorf("migration %s: %w", name, err)
        }
        if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
            _ = tx.Rollback()
            return err
        }
        if err := tx.Commit(); err != nil { return err }
    }
    return nil
}

func migrationNames(fsys fs.FS) ([]string, error) {
    entries, err := fs.ReadDir(fsys, "migrations")
    if err != nil { return nil, err }
    names := make([]string, 0, len(entries))
    for _, e := range entries {
        if !e.IsDir() { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    return names, nil
}

// Missions

const missionCols = `m.id::text, m.tenant_id, m.name, m.created_at,
    COALESCE((SELECT json_agg(l.id::text ORDER BY l.seq) FROM legs l WHERE l.mission_id = m.id), '[]'::json)`

func scanMission(row interface{ Scan(...any) error }) (model.Mission, error) {
    var ms model.Mission
    var legIDs []byte
    if err := row.Scan(&ms.ID, &ms.TenantID, &ms.Name, &ms.CreatedAt, &legIDs); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return ms, ErrNotFound }
        return ms, err
    }
    ms.CreatedAt = ms.CreatedAt.UTC()
    if err := json.Unmarshal(legIDs, &ms.LegIDs); err != nil { return ms, fmt.Errorf("decode leg ids: %w", err) }
    return ms, nil
}

func (p *Postgres) CreateMission(ctx context.Context, tenantID string, in model.MissionIn) (model.Mission, error) {
    id := uuid.New()
    _, err := p.db.ExecContext(ctx, `INSERT INTO missions (id, tenant_id, name) VALUES ($1,$2,$3)`, id, tenantID, in.Name)
    if err != nil { return model.Mission{}, err }
    return p.GetMission(ctx, tenantID, id.String())
}

func (p *Postgres) GetMission(ctx context.Context, tenantID, id string) (model.Mission, error) {
    if _, err := uuid.Parse(id); err != nil { return model.Mission{}, ErrNotFound }
    row := p.db.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions m WHERE m.tenant_id=$1 AND m.id=$2`, tenantID, id)
    return scanMission(row)
}

func (p *Postgres) ListMissions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Mission, string, error) {
    limit = pageSize(limit)
    var rows *sql.Rows
    var err error
    if _, perr := uuid.Parse(cursor); cursor != "" && perr == nil {
        rows, err = p.db.QueryContext(ctx, `SELECT `+missionCols+` FROM missions m
            WHERE m.tenant_id=$1 AND (m.created_at, m.id) > (SELECT created_at, id FROM missions WHERE id=$2)
            ORDER BY m.created_at, m.id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+missionCols+` FROM missions m WHERE m.tenant_id=$1 ORDER BY m.created_at, m.id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Mission{}
    for rows.Next() {
        ms, err := scanMission(rows)
        if err != nil { return nil, "", err }
        out = append(out, ms)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

// Legs

const legCols = `id::text, tenant_id, mission_id::text, seq, name, departure_time, total_duration_seconds,
    route, route_version, transports, version, updated_at`

func scanLeg(row interface{ Scan(...any) error }) (model.Leg, error) {
    var l model.Leg
    var route, transports []byte
    err := row.Scan(&l.ID, &l.TenantID, &l.MissionID, &l.Seq, &l.Name, &l.DepartureTime, &l.TotalDurationSeconds,
        &route, &l.RouteVersion, &transports, &l.Version, &l.UpdatedAt)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return l, ErrNotFound }
        return l, err
    }
    l.DepartureTime = l.DepartureTime.UTC()
    l.UpdatedAt = l.UpdatedAt.UTC()
    if len(route) > 0 {
        if err := json.Unmarshal(route, &l.Route); err != nil { return l, fmt.Errorf("decode route: %w", err) }
    }
    if len(transports) > 0 {
        if err := json.Unmarshal(transports, &l.Transports); err != nil { return l, fmt.Errorf("decode transports: %w", err) }
    }
    return l, nil
}

func (p *Postgres) CreateLeg(ctx context.Context, tenantID, missionID string, in model.LegIn) (model.Leg, error) {
    if _, err := uuid.Parse(missionID); err != nil { return model.Leg{}, ErrNotFound }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Leg{}, err }
    defer func() { _ = tx.Rollback() }()

    // lock the mission row so concurrent creates get distinct seq values
    var mid string
    err = tx.QueryRowContext(ctx, `SELECT id::text FROM missions WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, missionID).Scan(&mid)
    if errors.Is(err, sql.ErrNoRows) { return model.Leg{}, ErrNotFound }
    if err != nil { return model.Leg{}, err }
    var seq int
    if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM legs WHERE mission_id=$1`, missionID).Scan(&seq); err != nil {
        return model.Leg{}, err
    }
    row := tx.QueryRowContext(ctx, `INSERT INTO legs (id, tenant_id, mission_id, seq, name, departure_time, total_duration_seconds)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+legCols,
        uuid.New(), tenantID, missionID, seq, in.Name, in.DepartureTime.UTC(), in.TotalDurationSeconds)
    l, err := scanLeg(row)
    if err != nil { return model.Leg{}, err }
    return l, tx.Commit()
}

func (p *Postgres) GetLeg(ctx context.Context, tenantID, id string) (model.Leg, error) {
    if _, err := uuid.Parse(id); err != nil { return model.Leg{}, ErrNotFound }
    return scanLeg(p.db.QueryRowContext(ctx, `SELECT `+legCols+` FROM legs WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (p *Postgres) ListLegs(ctx context.Context, tenantID, missionID string) ([]model.Leg, error) {
    if _, err := p.GetMission(ctx, tenantID, missionID); err != nil { return nil, err }
    rows, err := p.db.QueryContext(ctx, `SELECT `+legCols+` FROM legs WHERE tenant_id=$1 AND mission_id=$2 ORDER BY seq`, tenantID, missionID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Leg{}
    for rows.Next() {
        l, err := scanLeg(rows)
        if err != nil { return nil, err }
        out = append(out, l)
    }
    return out, rows.Err()
}

func (p *Postgres) AttachRoute(ctx context.Context, tenantID, legID string, route []model.Waypoint) (model.Leg, error) {
    if _, err := uuid.Parse(legID); err != nil { return model.Leg{}, ErrNotFound }
    body, err := json.Marshal(route)
    if err != nil { return model.Leg{}, err }
    row := p.db.QueryRowContext(ctx, `UPDATE legs SET route=$3, route_version=route_version+1, updated_at=now()
        WHERE tenant_id=$1 AND id=$2 AND route IS NULL RETURNING `+legCols, tenantID, legID, body)
    l, err := scanLeg(row)
    if errors.Is(err, ErrNotFound) {
        if _, gerr := p.GetLeg(ctx, tenantID, legID); gerr != nil { return model.Leg{}, gerr }
        return model.Leg{}, ErrRouteAttached
    }
    return l, err
}

func (p *Postgres) CommitTransports(ctx context.Context, tenantID, legID string, cfg model.TransportConfig, departure *time.Time, expectedVersion int) (model.Leg, error) {
    if _, err := uuid.Parse(legID); err != nil { return model.Leg{}, ErrNotFound }
    body, err := json.Marshal(cfg)
    if err != nil { return model.Leg{}, err }
    var dep any
    if departure != nil { dep = departure.UTC() }
    row := p.db.QueryRowContext(ctx, `UPDATE legs SET transports=$3, departure_time=COALESCE($4, departure_time), version=version+1, updated_at=now()
        WHERE tenant_id=$1 AND id=$2 AND ($5 = 0 OR version=$5) RETURNING `+legCols, tenantID, legID, body, dep, expectedVersion)
    l, err := scanLeg(row)
    if errors.Is(err, ErrNotFound) {
        if _, gerr := p.GetLeg(ctx, tenantID, legID); gerr != nil { return model.Leg{}, gerr }
        return model.Leg{}, ErrVersionConflict
    }
    return l, err
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, err := json.Marshal(req.Events)
    if err != nil { return model.Subscription{}, err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    filter, err := json.Marshal([]string{eventType})
    if err != nil { return nil, err }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, filter)
    if err != nil { return nil, err }
    defer rows.Close()
    return scanSubscriptions(rows, tenantID)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    limit = pageSize(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out, err := scanSubscriptions(rows, tenantID)
    if err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func scanSubscriptions(rows *sql.Rows, tenantID string) ([]model.Subscription, error) {
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.TenantID = tenantID
        if err := json.Unmarshal(ev, &s.Events); err != nil { return nil, fmt.Errorf("decode events: %w", err) }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    if _, err := uuid.Parse(id); err != nil { return ErrNotFound }
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, pageSize(limit))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    // move to DLQ
    _, err = tx.ExecContext(ctx, `INSERT INTO webhook_dlq (tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT tenant_id, id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    if err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
    limit = pageSize(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0)
        FROM webhook_deliveries WHERE tenant_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR id::text > $3) ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        var nextAt sql.NullTime
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &nextAt, &d.LastError, &d.ResponseCode); err != nil { return nil, "", err }
        if nextAt.Valid && (d.Status == DeliveryPending || d.Status == DeliveryRetry) {
            t := nextAt.Time.UTC()
            d.NextAttemptAt = &t
        }
        out = append(out, d)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    if _, err := uuid.Parse(id); err != nil { return ErrNotFound }
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// computeDedupKey prefers the event id in the payload, else a short content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
