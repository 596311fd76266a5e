package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"commsplan/internal/logging"
	"commsplan/internal/store"
)

// Event types.
const (
	EventTimelineCommitted = "timeline.committed"
	EventRouteAttached     = "route.attached"
)

// Event is the JSON envelope delivered to subscribers.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	TenantID string    `json:"tenant_id"`
	TS       time.Time `json:"ts"`
	Data     any       `json:"data"`
}

type Publisher struct {
	Store store.Store
	Log   logging.Logger
}

func NewPublisher(s store.Store, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Noop()
	}
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues one delivery per subscription to eventType. It returns the
// number of deliveries enqueued.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) (int, error) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil || len(subs) == 0 {
		return 0, err
	}
	body, err := json.Marshal(Event{
		ID:       "evt_" + uuid.NewString(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       time.Now().UTC(),
		Data:     data,
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn(ctx, "webhook enqueue failed",
				logging.String("subscription_id", s.ID), logging.String("event_type", eventType), logging.Err(err))
			continue
		}
		n++
	}
	return n, nil
}
