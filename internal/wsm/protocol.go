// Package wsm implements the WebSocket fanout: authenticated, topic-
// filtered, rate-limited real-time broadcast to external subscribers. The
// hub/session shape follows control_plane's MetricsHub/api_stream
// register-unregister-broadcast loop, generalized from one fixed metrics
// payload per tenant to arbitrary typed topics per session.
package wsm

import "time"

// MessageType enumerates the client-to-server and server-to-client frame
// types of the wire protocol.
type MessageType string

const (
	TypePing               MessageType = "ping"
	TypeSubscribe          MessageType = "subscribe"
	TypeUnsubscribe        MessageType = "unsubscribe"
	TypeGetSubscriptions   MessageType = "get-subscriptions"
	TypeGetStats           MessageType = "get-stats"
	TypeWelcome            MessageType = "welcome"
	TypePong               MessageType = "pong"
	TypeSubscriptionResult MessageType = "subscription-result"
	TypeUnsubscriptionResult MessageType = "unsubscription-result"
	TypeSubscriptions      MessageType = "subscriptions"
	TypeStats              MessageType = "stats"
	TypeError              MessageType = "error"
)

// Error codes carried in error frames.
const (
	ErrRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrInvalidJSON        = "INVALID_JSON"
	ErrUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	ErrInvalidTopics      = "INVALID_TOPICS"
)

// Domain broadcast topics, per spec.md §6.
const (
	TopicRacePositions       = "race.positions"
	TopicRaceGaps            = "race.gaps"
	TopicRaceWeather         = "race.weather"
	TopicRaceTacticalEvents  = "race.tactical-events"
	TopicRaceSplits          = "race.splits"
	TopicRaceStatus          = "race.status"
	TopicTeamTactics         = "team.tactics"
	TopicRiderPerformance    = "rider.performance"
	TopicNotificationsAlerts = "notifications.alerts"
	TopicSystemStatus        = "system.status"
)

// InboundFrame is a client-to-server message.
type InboundFrame struct {
	Type   MessageType `json:"type"`
	Topics []string    `json:"topics,omitempty"`
}

// OutboundFrame is a server-to-client message; every outbound frame
// carries Timestamp and ConnectionID per spec.md §6.
type OutboundFrame struct {
	Type         MessageType `json:"type"`
	Timestamp    time.Time   `json:"timestamp"`
	ConnectionID string      `json:"connectionId"`

	// welcome
	ServerTime   *time.Time `json:"serverTime,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`

	// pong
	PongTimestamp *time.Time `json:"pongTimestamp,omitempty"`

	// subscription-result / unsubscription-result / subscriptions
	ValidTopics       []string `json:"validTopics,omitempty"`
	InvalidTopics     []string `json:"invalidTopics,omitempty"`
	TotalSubscriptions int     `json:"totalSubscriptions,omitempty"`
	Subscriptions     []string `json:"subscriptions,omitempty"`

	// stats (admin)
	Stats *Stats `json:"stats,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// domain broadcast payload
	Payload any `json:"payload,omitempty"`
}

// Stats summarizes hub-wide state for the admin get-stats frame.
type Stats struct {
	ActiveSessions  int            `json:"activeSessions"`
	TopicCounts     map[string]int `json:"topicCounts"`
	RateLimitDrops  int            `json:"rateLimitDrops"`
}
