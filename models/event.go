package models

import (
	"encoding/json"
	"time"

	"goflare.io/cartsync/models/enum"
)

type Event struct {
	ID         string          `json:"id"`
	Type       enum.EventType  `json:"type"`
	SessionID  string          `json:"session_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
