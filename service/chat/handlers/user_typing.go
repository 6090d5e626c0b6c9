package handlers

import (
	"context"

	"PPChat/service/chat"
)

type userTypingIn struct {
	Type     string `json:"type"`
	ChatGUID string `json:"chat_guid"`
	UserGUID string `json:"user_guid,omitempty"` // ignored, the socket's user is authoritative
}

func (in *userTypingIn) Validate() error { return checkGUID("chat_guid", in.ChatGUID) }

type UserTyping struct{}

func (UserTyping) Type() string { return "user_typing" }

func (UserTyping) Handle(ctx context.Context, hc *chat.Context, raw []byte) error {
	var in userTypingIn
	if err := chat.DecodeStrict(raw, &in); err != nil {
		return err
	}
	if _, err := knownChat(hc, "user_typing", in.ChatGUID); err != nil {
		return err
	}
	markOnline(ctx, hc, in.ChatGUID)
	return hc.S.Registry.BroadcastToTopic(ctx, in.ChatGUID, chat.UserTypingEvent{
		Type:     chat.EventUserTyping,
		ChatGUID: in.ChatGUID,
		UserGUID: hc.Conn.User.GUID,
	})
}
