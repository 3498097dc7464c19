package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/racepulse/core/internal/auth"
	"github.com/racepulse/core/internal/dns"
	"github.com/racepulse/core/internal/wsm"
)

// principalFromRequest authenticates a WebSocket upgrade request off its
// bearer token, the seam wsm.HandleUpgrade calls into so the transport
// stays decoupled from the token format.
func principalFromRequest(r *http.Request) (wsm.Principal, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return wsm.Principal{}, err
	}
	return wsm.Principal{ID: claims.Subject, Permissions: claims.Permissions, Admin: claims.Admin}, nil
}

// handleWebSocket upgrades a realtime subscriber connection onto the hub.
func (p *Pipeline) handleWebSocket(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsm.HandleUpgrade(ctx, p.hub, principalFromRequest, w, r)
	}
}

// subscribeRequest is the wire shape for POST /notifications/subscriptions.
type subscribeRequest struct {
	SubscriberID string   `json:"subscriberId"`
	Categories   []string `json:"categories"`
	MinPriority  int      `json:"minPriority"`
	AllowList    []string `json:"allowList"`
	Channel      string   `json:"channel"`
	WebhookURL   string   `json:"webhookUrl"`
	PerMinuteCap int      `json:"perMinuteCap"`
}

func (p *Pipeline) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SubscriberID == "" {
		http.Error(w, "subscriberId is required", http.StatusBadRequest)
		return
	}

	categories := make(map[dns.Category]struct{}, len(req.Categories))
	for _, c := range req.Categories {
		categories[dns.Category(c)] = struct{}{}
	}
	perMinuteCap := req.PerMinuteCap
	if perMinuteCap <= 0 {
		perMinuteCap = 60
	}
	sub := &dns.Subscription{
		ID:           uuid.NewString(),
		SubscriberID: req.SubscriberID,
		Active:       true,
		Categories:   categories,
		MinPriority:  dns.Priority(req.MinPriority),
		AllowList:    req.AllowList,
		Channel:      dns.Channel(req.Channel),
		WebhookURL:   req.WebhookURL,
		PerMinuteCap: perMinuteCap,
		CreatedAt:    time.Now(),
	}
	p.registry.Add(sub)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sub)
}

func (p *Pipeline) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.registry.Snapshot())
}

// handleIngest accepts a raw telemetry frame from an upstream endpoint
// adapter and runs it through CRM verification and DAS ingestion.
func (p *Pipeline) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var frame crmRawFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := p.IngestFrame(frame.toRawTelemetryFrame()); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
