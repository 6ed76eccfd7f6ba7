package ws

import (
	"time"

	"cardscan/internal/pipeline"
)

// StatusMessage is the scanner state broadcast to connected clients.
type StatusMessage struct {
	Type      string            `json:"type"` // "status"
	Timestamp time.Time         `json:"timestamp"`
	State     pipeline.Snapshot `json:"state"`
}

// NewStatusMessage wraps a pipeline snapshot for broadcasting.
func NewStatusMessage(snap pipeline.Snapshot) *StatusMessage {
	return &StatusMessage{
		Type:      "status",
		Timestamp: time.Now(),
		State:     snap,
	}
}
