// Package event publishes cart lifecycle events over NATS.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
)

const DefaultSubjectPrefix = "cartsync"

var _ Publisher = (*natsPublisher)(nil)

type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

type natsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &natsPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Subject is <prefix>.<session>.<event type>, e.g. cartsync.s1.cart.synced.
func Subject(prefix, sessionID string, eventType enum.EventType) string {
	return fmt.Sprintf("%s.%s.%s", prefix, sessionID, eventType)
}

func (p *natsPublisher) Publish(ctx context.Context, event *models.Event) error {
	subject := Subject(p.prefix, event.SessionID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal cart event",
			zap.String("subject", subject),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}

	if err = p.conn.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish NATS message",
			zap.String("subject", subject),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish NATS message for %s: %w", subject, err)
	}

	p.logger.Debug("Published cart event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID))
	return nil
}

type Handler func(event *models.Event)

// Subscribe delivers every cart event under prefix to handler. Undecodable
// messages are logged and dropped.
func Subscribe(conn *nats.Conn, prefix string, handler Handler, logger *zap.Logger) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return conn.Subscribe(prefix+".>", func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(&event)
	})
}
