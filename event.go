package cartsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/cartsync/event"
	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
)

// EventManager turns cart lifecycle changes into published events. Delivery
// is best effort: a failed publish never fails the cart operation.
type EventManager struct {
	publisher event.Publisher
	sessionID string
	logger    *zap.Logger
}

func NewEventManager(publisher event.Publisher, sessionID string, logger *zap.Logger) *EventManager {
	return &EventManager{
		publisher: publisher,
		sessionID: sessionID,
		logger:    logger,
	}
}

func (em *EventManager) Emit(ctx context.Context, eventType enum.EventType, payload any) {
	if em == nil || em.publisher == nil {
		return
	}

	evt := &models.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SessionID:  em.sessionID,
		OccurredAt: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			em.logger.Warn("Failed to marshal event payload", zap.String("event_type", string(eventType)), zap.Error(err))
			return
		}
		evt.Payload = data
	}

	if err := em.publisher.Publish(ctx, evt); err != nil {
		em.logger.Warn("Failed to publish cart event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

type syncedPayload struct {
	Merged int `json:"merged"`
}

type syncFailurePayload struct {
	Failed []models.CartEntry `json:"failed"`
}

type checkedOutPayload struct {
	OrderID string `json:"orderId"`
	Total   string `json:"total"`
	Items   int    `json:"items"`
}
