package handlers

import (
	"context"
	"errors"

	"PPChat/logger"
	"PPChat/service/chat"
	"PPChat/service/sink"
	"PPChat/service/store"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

type newMessageIn struct {
	Type     string  `json:"type"`
	ChatGUID string  `json:"chat_guid"`
	Content  *string `json:"content"`
	UserGUID string  `json:"user_guid,omitempty"` // sent by older clients, ignored
}

func (in *newMessageIn) Validate() error {
	if in.Content == nil {
		return errors.New("content: missing")
	}
	return checkGUID("chat_guid", in.ChatGUID)
}

// NewMessage persists a message and broadcasts it as a "new" event.
type NewMessage struct{}

func (NewMessage) Type() string { return "new_message" }

func (NewMessage) Handle(ctx context.Context, hc *chat.Context, raw []byte) error {
	var in newMessageIn
	if err := chat.DecodeStrict(raw, &in); err != nil {
		return err
	}
	s, c := hc.S, hc.Conn

	chatID, known := c.ChatID(in.ChatGUID)
	notifyFriend := false
	if !known {
		id, err := s.Store.ChatIDByGUID(ctx, in.ChatGUID)
		if errors.Is(err, store.ErrNotFound) {
			return errs.ErrChatNotAdded.WrapMsg("resolve chat", "chat_guid", in.ChatGUID)
		}
		if err != nil {
			return err
		}
		if err := s.Registry.Join(ctx, c, in.ChatGUID, id); err != nil {
			return err
		}
		chatID, notifyFriend = id, true
	}

	msg, row, err := s.Store.CreateMessage(ctx, chatID, c.User.ID, *in.Content)
	if err != nil {
		logFor(hc).Error("[new_message] persist failed", zap.String("topic", in.ChatGUID), zap.Error(err))
		return err
	}

	markOnline(ctx, hc, in.ChatGUID)
	if cacheEnabled(hc) {
		for _, u := range row.Users {
			if _, err := s.Cache.InvalidateDirectChats(ctx, u.GUID); err != nil {
				logFor(hc).Warn("invalidate direct chats", zap.String("user_guid", u.GUID), zap.Error(err))
			}
		}
		if _, err := s.Cache.InvalidateMessages(ctx, in.ChatGUID); err != nil {
			logFor(hc).Warn("invalidate messages", zap.String("topic", in.ChatGUID), zap.Error(err))
		}
	}

	ev := chat.NewMessageEvent{
		Type:        chat.EventNew,
		MessageGUID: msg.GUID,
		UserGUID:    c.User.GUID,
		ChatGUID:    row.GUID,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		IsRead:      false,
		IsNew:       true,
	}
	if err := s.Registry.BroadcastToTopic(ctx, in.ChatGUID, ev); err != nil {
		return err
	}

	if notifyFriend {
		notifyNewChat(hc, row)
	}

	if err := s.Sink.Emit(ctx, sink.MessageEvent{
		MessageGUID: msg.GUID,
		ChatGUID:    row.GUID,
		ChatID:      row.ID,
		UserGUID:    c.User.GUID,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		GatewayID:   s.NodeID(),
	}); err != nil {
		logFor(hc).Warn("[new_message] sink emit", zap.Error(err))
	}
	return nil
}

// notifyNewChat pushes new_chat_created straight to every local connection of
// the other participant; the sender is the "friend" they see.
func notifyNewChat(hc *chat.Context, row *store.Chat) {
	me := hc.Conn.User
	other, ok := row.Other(me.ID)
	if !ok {
		logger.Error("friend guid not found", zap.String("type", chat.EventNewChatCreated), zap.String("topic", row.GUID))
		return
	}
	ev := chat.NewChatCreatedEvent{
		Type:      chat.EventNewChatCreated,
		ChatID:    row.ID,
		ChatGUID:  row.GUID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Friend: chat.Friend{
			GUID:      me.GUID,
			FirstName: me.FirstName,
			LastName:  me.LastName,
			Username:  me.Username,
			UserImage: me.UserImage,
		},
		HasNewMessages:   true,
		NewMessagesCount: 1,
	}
	targets := hc.S.Registry.UserConnections(other.GUID)
	logFor(hc).Info("notifying friend about newly created chat",
		zap.String("topic", row.GUID), zap.Int("targets", len(targets)))
	for _, t := range targets {
		hc.S.Registry.SendJSON(t, ev)
	}
}
