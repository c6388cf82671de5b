package ws

import (
	"time"

	"github.com/ozanyurt/airgrid/internal/model"
)

// Frame is the server-to-client message envelope. Every frame carries a
// type; the other members are populated per type.
type Frame struct {
	Type      string         `json:"type"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Payload   *model.Anomaly `json:"payload,omitempty"`
}

// ConnectedFrame is the welcome sent right after the upgrade.
func ConnectedFrame() Frame {
	return Frame{
		Type:      "connection_status",
		Status:    "connected",
		Message:   "connected to anomaly broadcast",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// RecentAnomalyFrame wraps one replayed anomaly from the last 24 hours.
func RecentAnomalyFrame(a model.Anomaly) Frame {
	return Frame{Type: "recent_anomaly", Payload: &a}
}

// NewAnomalyFrame wraps one live anomaly.
func NewAnomalyFrame(a model.Anomaly) Frame {
	return Frame{Type: "new_anomaly", Payload: &a}
}

// PongFrame answers a literal "ping" text message.
func PongFrame() Frame {
	return Frame{
		Type:      "pong",
		Message:   "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
