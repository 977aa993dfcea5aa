package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jjudge-oj/accounts/internal/logging"
	"github.com/jjudge-oj/accounts/types"
	"github.com/oklog/ulid/v2"
)

const (
	EventUserCreated     = "user.created"
	EventUserUpdated     = "user.updated"
	EventUserTokenIssued = "user.token_issued"
)

// EventPublisher delivers account events to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// AccountEvent is the payload published for account lifecycle changes.
type AccountEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

// publish never fails the caller; broker errors are logged and dropped.
func (s *UserService) publish(ctx context.Context, eventType string, user types.User) {
	if s.events == nil {
		return
	}

	event := AccountEvent{
		ID:         ulid.Make().String(),
		Type:       eventType,
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: s.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		logging.FromContext(ctx).Error("encode account event", "type", eventType, "err", err)
		return
	}

	if _, err := s.events.Publish(ctx, s.eventsChannel, data, map[string]string{"type": eventType}); err != nil {
		logging.FromContext(ctx).Warn("publish account event failed",
			"type", eventType,
			"user_id", user.ID,
			"err", err,
		)
	}
}
