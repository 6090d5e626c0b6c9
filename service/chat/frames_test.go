package chat

import (
	"encoding/json"
	"testing"
	"time"

	"PPChat/tools/errs"

	"github.com/google/go-cmp/cmp"
)

func TestNewMessageEventRoundTrip(t *testing.T) {
	in := NewMessageEvent{
		Type:        EventNew,
		MessageGUID: "0b7e4c1a-5d2f-4e8b-9a61-3f0c2d9e7b11",
		UserGUID:    "11111111-1111-4111-8111-111111111111",
		ChatGUID:    "aaaaaaaa-0000-4000-8000-000000000001",
		Content:     "hi",
		CreatedAt:   time.Date(2024, 3, 9, 18, 4, 5, 123456000, time.UTC),
		IsRead:      false,
		IsNew:       true,
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)
	if generic["created_at"] != "2024-03-09T18:04:05.123456Z" {
		t.Fatalf("created_at = %v", generic["created_at"])
	}
	for _, k := range []string{"type", "message_guid", "user_guid", "chat_guid", "content", "created_at", "is_read", "is_new"} {
		if _, ok := generic[k]; !ok {
			t.Fatalf("missing %s in %s", k, raw)
		}
	}

	var out NewMessageEvent
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(in, out); d != "" {
		t.Fatalf("round trip (-in +out):\n%s", d)
	}
}

func TestNewChatCreatedShape(t *testing.T) {
	raw, _ := json.Marshal(NewChatCreatedEvent{Type: EventNewChatCreated, HasNewMessages: true, NewMessagesCount: 1})
	var got map[string]any
	_ = json.Unmarshal(raw, &got)
	friend, ok := got["friend"].(map[string]any)
	if !ok {
		t.Fatalf("friend missing: %s", raw)
	}
	for _, k := range []string{"guid", "first_name", "last_name", "username", "user_image"} {
		if _, ok := friend[k]; !ok {
			t.Fatalf("friend.%s missing", k)
		}
	}
	if got["has_new_messages"] != true || got["new_messages_count"] != float64(1) {
		t.Fatalf("counters = %v", got)
	}
}

type strictIn struct {
	Type     string `json:"type"`
	ChatGUID string `json:"chat_guid"`
}

func TestDecodeStrict(t *testing.T) {
	var in strictIn
	if err := DecodeStrict([]byte(`{"type":"user_typing","chat_guid":"g"}`), &in); err != nil {
		t.Fatalf("valid frame: %v", err)
	}
	for _, raw := range []string{
		`{"type":"user_typing","chat_guid":"g","extra":1}`,
		`{"type":"user_typing","chat_guid":7}`,
		`{"type":"user_typing"} {}`,
	} {
		err := DecodeStrict([]byte(raw), &strictIn{})
		if !errs.ErrWrongFormat.Is(err) {
			t.Fatalf("%s: want wrong format, got %v", raw, err)
		}
	}
}

func TestFrameType(t *testing.T) {
	if typ, err := frameType([]byte(`{"type":"new_message","x":1}`)); err != nil || typ != "new_message" {
		t.Fatalf("got %q, %v", typ, err)
	}
	if _, err := frameType([]byte(`{}`)); !errs.ErrMissingType.Is(err) {
		t.Fatalf("want missing type, got %v", err)
	}
	if _, err := frameType([]byte(`[`)); !errs.ErrWrongFormat.Is(err) {
		t.Fatalf("want wrong format, got %v", err)
	}
}
