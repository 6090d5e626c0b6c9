// Package sink hands persisted message events to downstream consumers.
package sink

import (
	"context"
	"time"
)

// MessageEvent is emitted once per persisted new_message.
type MessageEvent struct {
	MessageGUID string    `json:"message_guid"`
	ChatGUID    string    `json:"chat_guid"`
	ChatID      int64     `json:"chat_id"`
	UserGUID    string    `json:"user_guid"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	GatewayID   int64     `json:"gateway_id"`
}

type Sink interface {
	Emit(ctx context.Context, ev MessageEvent) error
	Close() error
}

// Noop is used when kafka is disabled.
type Noop struct{}

func (Noop) Emit(context.Context, MessageEvent) error { return nil }
func (Noop) Close() error                               { return nil }
