package entity

import (
	"context"
	"time"
)

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type OrderEventType string

const (
	OrderEventPlaced       OrderEventType = "placed"
	OrderEventTerminal     OrderEventType = "terminal"
	OrderEventCancelFailed OrderEventType = "cancel_failed"
)

type OrderEvent struct {
	Type       OrderEventType `json:"type"`
	SessionID  string         `json:"session_id"`
	Order      *Order         `json:"order"`
	Message    string         `json:"message,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventPublisher receives order lifecycle events. Publishing is best effort.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}
