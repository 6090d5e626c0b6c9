package handlers

import (
	"context"
	"errors"

	"PPChat/service/chat"
)

type addUserToChatIn struct {
	Type     string `json:"type"`
	ChatGUID string `json:"chat_guid"`
	ChatID   *int64 `json:"chat_id"`
}

func (in *addUserToChatIn) Validate() error {
	if in.ChatGUID == "" {
		return errors.New("chat_guid: missing")
	}
	if in.ChatID == nil {
		return errors.New("chat_id: missing")
	}
	return nil
}

// AddUserToChat is replayed by the client of the non-initiating participant:
// it subscribes this connection to the announced chat. Nothing is persisted.
type AddUserToChat struct{}

func (AddUserToChat) Type() string { return "add_user_to_chat" }

func (AddUserToChat) Handle(ctx context.Context, hc *chat.Context, raw []byte) error {
	var in addUserToChatIn
	if err := chat.DecodeStrict(raw, &in); err != nil {
		return err
	}
	if err := hc.S.Registry.Join(ctx, hc.Conn, in.ChatGUID, *in.ChatID); err != nil {
		return err
	}
	markOnline(ctx, hc, in.ChatGUID)
	return nil
}
