package store

import "time"

// Delivery statuses.
const (
    DeliveryPending   = "pending"
    DeliveryRetry     = "retry"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)

type WebhookDelivery struct {
    ID             string     `json:"id"`
    TenantID       string     `json:"tenant_id"`
    SubscriptionID string     `json:"subscription_id,omitempty"`
    EventType      string     `json:"event_type"`
    URL            string     `json:"url"`
    Secret         string     `json:"-"`
    Payload        []byte     `json:"-"`
    Status         string     `json:"status"`
    Attempts       int        `json:"attempts"`
    NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
    LastError      string     `json:"last_error,omitempty"`
    ResponseCode   int        `json:"response_code,omitempty"`
}
