package store

import (
    "context"
    "errors"
    "time"

    "commsplan/internal/model"
)

// Store is the persistence interface used by the planner and API server.
type Store interface {
    // Missions
    CreateMission(ctx context.Context, tenantID string, in model.MissionIn) (model.Mission, error)
    GetMission(ctx context.Context, tenantID, id string) (model.Mission, error)
    ListMissions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Mission, string, error)

    // Legs. ListLegs returns a mission's legs ordered by Seq.
    CreateLeg(ctx context.Context, tenantID, missionID string, in model.LegIn) (model.Leg, error)
    GetLeg(ctx context.Context, tenantID, id string) (model.Leg, error)
    ListLegs(ctx context.Context, tenantID, missionID string) ([]model.Leg, error)
    // AttachRoute stores the leg's waypoints once; a second attach fails with ErrRouteAttached.
    AttachRoute(ctx context.Context, tenantID, legID string, route []model.Waypoint) (model.Leg, error)
    // CommitTransports replaces the leg's transport configuration and bumps Version.
    // expectedVersion > 0 must match the stored version or ErrVersionConflict is returned.
    // A non-nil departure replaces the leg's departure time.
    CommitTransports(ctx context.Context, tenantID, legID string, cfg model.TransportConfig, departure *time.Time, expectedVersion int) (model.Leg, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

    Ping(ctx context.Context) error
}

var (
    ErrNotFound        = errors.New("not found")
    ErrRouteAttached   = errors.New("route already attached")
    ErrVersionConflict = errors.New("version conflict")
)

const (
    defaultPageSize = 100
    maxPageSize     = 500
)

func pageSize(limit int) int {
    if limit <= 0 || limit > maxPageSize {
        return defaultPageSize
    }
    return limit
}
