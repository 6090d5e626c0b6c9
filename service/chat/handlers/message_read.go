package handlers

import (
	"context"
	"errors"

	"PPChat/service/chat"
	"PPChat/service/store"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

type messageReadIn struct {
	Type        string `json:"type"`
	ChatGUID    string `json:"chat_guid"`
	MessageGUID string `json:"message_guid"`
}

func (in *messageReadIn) Validate() error {
	if err := checkGUID("chat_guid", in.ChatGUID); err != nil {
		return err
	}
	return checkGUID("message_guid", in.MessageGUID)
}

// MessageRead advances the caller's read watermark and announces it.
type MessageRead struct{}

func (MessageRead) Type() string { return "message_read" }

func (MessageRead) Handle(ctx context.Context, hc *chat.Context, raw []byte) error {
	var in messageReadIn
	if err := chat.DecodeStrict(raw, &in); err != nil {
		return err
	}
	s, c := hc.S, hc.Conn

	msg, err := s.Store.MessageByGUID(ctx, in.MessageGUID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrMessageNotFound.WithMsg("[read_status] Message with provided guid [%s] does not exist", in.MessageGUID)
	}
	if err != nil {
		return err
	}
	chatID, err := knownChat(hc, "read_status", in.ChatGUID)
	if err != nil {
		return err
	}
	if msg.ChatID != chatID {
		return errs.ErrMessageNotFound.WithMsg("[read_status] Message with provided guid [%s] does not exist", in.MessageGUID)
	}

	advanced, err := s.Store.MarkLastRead(ctx, c.User.ID, chatID, msg.ID)
	if err != nil {
		return err
	}
	if !advanced {
		logFor(hc).Debug("[read_status] watermark not advanced, nothing to announce",
			zap.String("topic", in.ChatGUID), zap.Int64("message_id", msg.ID))
		return nil
	}

	markOnline(ctx, hc, in.ChatGUID)
	if cacheEnabled(hc) {
		if _, err := s.Cache.InvalidateMessages(ctx, in.ChatGUID); err != nil {
			logFor(hc).Warn("invalidate messages", zap.String("topic", in.ChatGUID), zap.Error(err))
		}
	}
	return s.Registry.BroadcastToTopic(ctx, in.ChatGUID, chat.MessageReadEvent{
		Type:                     chat.EventMessageRead,
		UserGUID:                 c.User.GUID,
		ChatGUID:                 in.ChatGUID,
		LastReadMessageGUID:      msg.GUID,
		LastReadMessageCreatedAt: msg.CreatedAt,
	})
}
