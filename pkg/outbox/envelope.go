package outbox

import (
	"encoding/json"
	"time"
)

// ChatRef identifies the conversation that produced the event.
type ChatRef struct {
	ChatID int64 `json:"chatId"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Chat       *ChatRef        `json:"chat,omitempty"`
	Data       json.RawMessage `json:"data"`
}
