package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"PPChat/tools/errs"
)

// ---- 出站帧 ----

const (
	EventNew            = "new"
	EventMessageRead    = "message_read"
	EventUserTyping     = "user_typing"
	EventStatus         = "status"
	EventNewChatCreated = "new_chat_created"
	EventChatDeleted    = "chat_deleted"

	StatusOnline   = "online"
	StatusInactive = "inactive"
	StatusOffline  = "offline"
)

type NewMessageEvent struct {
	Type        string    `json:"type"`
	MessageGUID string    `json:"message_guid"`
	UserGUID    string    `json:"user_guid"`
	ChatGUID    string    `json:"chat_guid"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	IsRead      bool      `json:"is_read"`
	IsNew       bool      `json:"is_new"`
}

type MessageReadEvent struct {
	Type                     string    `json:"type"`
	UserGUID                 string    `json:"user_guid"`
	ChatGUID                 string    `json:"chat_guid"`
	LastReadMessageGUID      string    `json:"last_read_message_guid"`
	LastReadMessageCreatedAt time.Time `json:"last_read_message_created_at"`
}

type UserTypingEvent struct {
	Type     string `json:"type"`
	ChatGUID string `json:"chat_guid"`
	UserGUID string `json:"user_guid"`
}

type StatusEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	UserGUID string `json:"user_guid"`
	Status   string `json:"status"`
}

type Friend struct {
	GUID      string `json:"guid"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	UserImage string `json:"user_image"`
}

type NewChatCreatedEvent struct {
	Type             string    `json:"type"`
	ChatID           int64     `json:"chat_id"`
	ChatGUID         string    `json:"chat_guid"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Friend           Friend    `json:"friend"`
	HasNewMessages   bool      `json:"has_new_messages"`
	NewMessagesCount int       `json:"new_messages_count"`
}

type ChatDeletedEvent struct {
	Type     string `json:"type"`
	UserGUID string `json:"user_guid"`
	UserName string `json:"user_name"`
	ChatGUID string `json:"chat_guid"`
}

type ErrorFrame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ---- 入站帧 ----

type envelope struct {
	Type *string `json:"type"`
}

// frameType extracts "type"; undecodable JSON is a wrong-format error and a
// missing or empty type a missing-type error.
func frameType(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", errs.ErrWrongFormat.WrapMsg("decode envelope", "err", err)
	}
	if env.Type == nil || *env.Type == "" {
		return "", errs.ErrMissingType.WrapMsg("")
	}
	return *env.Type, nil
}

// Validator is implemented by inbound payloads with required fields.
type Validator interface {
	Validate() error
}

// DecodeStrict decodes one inbound frame into out, rejecting unknown fields,
// and runs out.Validate when present. Every failure is ErrWrongFormat.
func DecodeStrict(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return errs.ErrWrongFormat.WrapMsg("decode frame", "err", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errs.ErrWrongFormat.WrapMsg("trailing data after frame")
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return errs.ErrWrongFormat.WrapMsg("validate frame", "err", err)
		}
	}
	return nil
}
