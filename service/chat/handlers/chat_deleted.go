package handlers

import (
	"context"
	"errors"

	"PPChat/service/chat"

	"go.uber.org/zap"
)

type chatDeletedIn struct {
	Type     string `json:"type"`
	ChatGUID string `json:"chat_guid"`
}

func (in *chatDeletedIn) Validate() error {
	if in.ChatGUID == "" {
		return errors.New("chat_guid: missing")
	}
	return nil
}

// ChatDeleted tells every other local connection on the topic that the chat is
// gone. The deletion itself happened over HTTP.
type ChatDeleted struct{}

func (ChatDeleted) Type() string { return "chat_deleted" }

func (ChatDeleted) Handle(_ context.Context, hc *chat.Context, raw []byte) error {
	var in chatDeletedIn
	if err := chat.DecodeStrict(raw, &in); err != nil {
		return err
	}
	if _, err := knownChat(hc, "chat_deleted", in.ChatGUID); err != nil {
		return err
	}
	ev := chat.ChatDeletedEvent{
		Type:     chat.EventChatDeleted,
		UserGUID: hc.Conn.User.GUID,
		UserName: hc.Conn.User.FirstName,
		ChatGUID: in.ChatGUID,
	}
	sent := 0
	for _, t := range hc.S.Registry.TopicConnections(in.ChatGUID) {
		if t == hc.Conn {
			continue
		}
		if hc.S.Registry.SendJSON(t, ev) {
			sent++
		}
	}
	logFor(hc).Debug("[chat_deleted] notified", zap.String("topic", in.ChatGUID), zap.Int("targets", sent))
	return nil
}
