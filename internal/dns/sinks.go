package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Broadcaster is the subset of wsm.Hub a WebSocket sink needs, kept as a
// narrow interface so dns never imports wsm directly (components own
// their own registries; cross-references are by channel only).
type Broadcaster interface {
	Broadcast(topic string, payload any, allowList []string, requiredPermission string) int
}

// WebSocketSink fans a notification out through a realtime hub's
// notifications.alerts topic.
type WebSocketSink struct {
	Hub Broadcaster
}

func (s WebSocketSink) Deliver(ctx context.Context, sub *Subscription, n Notification) error {
	delivered := s.Hub.Broadcast("notifications.alerts", n, []string{sub.SubscriberID}, "")
	if delivered == 0 {
		return fmt.Errorf("dns: no active session for subscriber %s", sub.SubscriberID)
	}
	return nil
}

// SSEFeed is the subset of an SSE broker an SSE sink needs to push one
// event to one subscriber's stream.
type SSEFeed interface {
	Push(subscriberID string, eventName string, payload any) error
}

// SSESink delivers via server-sent events.
type SSESink struct {
	Feed SSEFeed
}

func (s SSESink) Deliver(ctx context.Context, sub *Subscription, n Notification) error {
	return s.Feed.Push(sub.SubscriberID, "notification", n)
}

// WebhookSink POSTs the notification JSON to the subscription's declared
// URL with a bounded timeout.
type WebhookSink struct {
	Client  *http.Client
	Timeout time.Duration
}

func (s WebhookSink) Deliver(ctx context.Context, sub *Subscription, n Notification) error {
	if sub.WebhookURL == "" {
		return fmt.Errorf("dns: subscription %s has no webhook URL configured", sub.ID)
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dns: webhook %s responded %d", sub.WebhookURL, resp.StatusCode)
	}
	return nil
}
