package wsm

import (
	"strings"

	"github.com/racepulse/core/internal/perrors"
)

var errMaxConnections = perrors.New(perrors.KindResourceExhausted, "wsm.accept", "maxConnections reached")

// Principal is the authenticated identity behind a session, carrying an
// explicit permission set the way auth.Claims carries TenantID/Role —
// generalized here into an arbitrary permission list instead of a single
// role string.
type Principal struct {
	ID          string
	Permissions []string
	Admin       bool
}

// Has reports whether p holds permission.
func (p Principal) Has(permission string) bool {
	for _, perm := range p.Permissions {
		if perm == permission {
			return true
		}
	}
	return false
}

const permissionRealtimeAccess = "realtime-access"
const permissionRaceData = "race-data"

// requireRealtimeAccess rejects a handshake lacking realtime-access,
// mirroring auth.ValidateToken's claim checks.
func requireRealtimeAccess(p Principal) error {
	if !p.Has(permissionRealtimeAccess) {
		return perrors.New(perrors.KindAuthFailure, "wsm.handshake", "principal lacks realtime-access permission")
	}
	return nil
}

// topicPermissions declares the required permission per topic prefix. A
// topic not listed requires no extra permission beyond realtime-access.
var topicPermissions = map[string]string{
	TopicRacePositions:      permissionRaceData,
	TopicRaceGaps:           permissionRaceData,
	TopicRaceWeather:        permissionRaceData,
	TopicRaceTacticalEvents: permissionRaceData,
	TopicRaceSplits:         permissionRaceData,
	TopicRaceStatus:         permissionRaceData,
	TopicTeamTactics:        "team-data",
	TopicRiderPerformance:   "rider-data",
	TopicNotificationsAlerts: "notifications",
	TopicSystemStatus:       "system-data",
}

// authorizeTopic reports whether p may subscribe to topic. Admins bypass
// the table; a wildcard "race.*" subscription is allowed when p holds
// race-data, per spec.md §4.6.
func authorizeTopic(p Principal, topic string) bool {
	if p.Admin {
		return true
	}
	if topic == "race.*" {
		return p.Has(permissionRaceData)
	}
	required, known := topicPermissions[topic]
	if !known {
		return true
	}
	if strings.HasPrefix(topic, "race.") && p.Has(permissionRaceData) {
		return true
	}
	return p.Has(required)
}
