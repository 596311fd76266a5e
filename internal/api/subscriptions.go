package api

import (
    "net/http"

    "commsplan/internal/auth"
    "commsplan/internal/model"
)

// CreateSubscriptionHandler handles POST /v1/subscriptions (admin). The
// tenant always comes from the caller.
func (s *Server) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    body, err := readBody(w, r)
    if err != nil { s.writeError(w, r, err); return }
    var req model.SubscriptionRequest
    if err := validateBody(subscriptionSchema, body, &req); err != nil { s.writeError(w, r, err); return }
    req.TenantID = p.Tenant
    sub, err := s.Store.CreateSubscription(r.Context(), req)
    if err != nil { s.writeError(w, r, err); return }
    sub.Secret = ""
    writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptionsHandler handles GET /v1/subscriptions (admin)
func (s *Server) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
    if err != nil { s.writeError(w, r, err); return }
    for i := range items { items[i].Secret = "" }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
}

// DeleteSubscriptionHandler handles DELETE /v1/subscriptions/{id} (admin)
func (s *Server) DeleteSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, r.PathValue("id")); err != nil { s.writeError(w, r, err); return }
    w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries?status=
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    q := r.URL.Query()
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
    if err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, r.PathValue("id")); err != nil { s.writeError(w, r, err); return }
    writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}
