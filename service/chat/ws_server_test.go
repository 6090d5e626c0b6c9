package chat_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPChat/middleware/security"
	"PPChat/service/chat"
	"PPChat/service/chat/chattest"
	"PPChat/service/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// dialAs serves env over httptest with u already authenticated and dials it.
func dialAs(t *testing.T, env *chattest.Env, u store.User) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/", func(c *gin.Context) {
		c.Set(security.PPCtxUserKey, u)
		c.Next()
	}, env.Server.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSocketLifecycle(t *testing.T) {
	env := chattest.NewEnv(t, nil)
	env.Store.AddChat(10, g1, alice, bob)
	env.Server.Presence.WithInterval(50 * time.Millisecond)
	b := env.Connect(t, "b1", bob)

	ws := dialAs(t, env, alice)
	eventually(t, "alice registered", func() bool {
		return len(env.Server.Registry.UserConnections(alice.GUID)) == 1
	})

	// the monitor reports alice on the shared chat, and the writer delivers
	// the same frames to her socket
	if f := chattest.NextOfType(t, b, chat.EventStatus); f["user_guid"] != alice.GUID {
		t.Fatalf("bob got %v", f)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["type"] != chat.EventStatus {
		t.Fatalf("alice got %v", got)
	}

	// dropping the transport runs teardown
	_ = ws.Close()
	for {
		f := chattest.NextOfType(t, b, chat.EventStatus)
		if f["status"] == chat.StatusOffline {
			break
		}
	}
	eventually(t, "alice forgotten", func() bool {
		return env.Server.Registry.UserConnections(alice.GUID) == nil
	})

	// the monitor is stopped before the offline broadcast, so nothing follows it
	time.Sleep(100 * time.Millisecond)
	published := env.Broker.Published()
	last := published[len(published)-1]
	if last["status"] != chat.StatusOffline || last["user_guid"] != alice.GUID {
		t.Fatalf("status after offline: %v", last)
	}
}

func TestSocketFatalErrorCloses1011(t *testing.T) {
	env := chattest.NewEnv(t, func(d *chat.Dispatcher) { d.Register(failing{}) })
	ws := dialAs(t, env, alice)
	eventually(t, "alice registered", func() bool {
		return len(env.Server.Registry.UserConnections(alice.GUID)) == 1
	})

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"boom"}`)); err != nil {
		t.Fatal(err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
			t.Fatalf("want close 1011, got %v", err)
		}
		break
	}
	eventually(t, "alice forgotten", func() bool {
		return env.Server.Registry.UserConnections(alice.GUID) == nil
	})
}

func TestSocketProtocolErrorKeepsConnection(t *testing.T) {
	env := chattest.NewEnv(t, nil)
	ws := dialAs(t, env, alice)

	for i := 0; i < 2; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
			t.Fatal(err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got map[string]any
		if err := ws.ReadJSON(&got); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got["status"] != "error" || got["message"] != "Type: dance was not found" {
			t.Fatalf("got %v", got)
		}
	}
}
