// Package handlers holds the inbound frame handlers of the relay.
package handlers

import (
	"context"
	"fmt"

	"PPChat/global"
	"PPChat/service/chat"
	"PPChat/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterAll fills and seals the dispatch table.
func RegisterAll(d *chat.Dispatcher) {
	d.Register(NewMessage{})
	d.Register(MessageRead{})
	d.Register(UserTyping{})
	d.Register(AddUserToChat{})
	d.Register(ChatDeleted{})
	d.Seal()
}

// knownChat requires chatGUID in the connection's local topic map.
func knownChat(hc *chat.Context, where, chatGUID string) (int64, error) {
	id, ok := hc.Conn.ChatID(chatGUID)
	if !ok {
		return 0, errs.ErrChatNotFound.WithMsg("[%s] Chat with provided guid [%s] does not exist", where, chatGUID)
	}
	return id, nil
}

func checkGUID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

func cacheEnabled(hc *chat.Context) bool {
	return hc.S.Cache != nil && global.Current().CacheEnabled
}

// markOnline refreshes presence; a failure is logged and the event goes on.
func markOnline(ctx context.Context, hc *chat.Context, topic string) {
	if err := hc.S.Presence.MarkOnline(ctx, hc.Conn, topic); err != nil {
		logFor(hc).Warn("mark online", zap.String("topic", topic), zap.Error(err))
	}
}

func logFor(hc *chat.Context) *zap.Logger {
	return hc.Conn.Logger()
}
