// Package store is the persistence collaborator of the relay.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	// ChatIDByGUID resolves a chat topic; ErrNotFound when the chat is unknown.
	ChatIDByGUID(ctx context.Context, guid string) (int64, error)
	// MessageByGUID returns ErrNotFound for unknown and soft-deleted messages.
	MessageByGUID(ctx context.Context, guid string) (*Message, error)
	// MarkLastRead moves the (user, chat) watermark forward to messageID and
	// reports whether it moved.
	MarkLastRead(ctx context.Context, userID, chatID, messageID int64) (bool, error)
	// ActiveDirectChats maps chat guid to chat id for every non-deleted direct
	// chat of the user.
	ActiveDirectChats(ctx context.Context, userID int64) (map[string]int64, error)
	// CreateMessage persists the message and bumps chat.updated_at atomically.
	CreateMessage(ctx context.Context, chatID, senderID int64, content string) (*Message, *Chat, error)
	UserByLogin(ctx context.Context, login string) (*User, error)
	ChatMessages(ctx context.Context, chatID, viewerID int64, limit int) ([]MessageView, error)
}
