package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"PPChat/logger"
	"PPChat/service/metrics"
	"PPChat/service/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ---- 常量参数（建议值） ----
const (
	pingInterval   = 25 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	firstPingDelay = 5 * time.Second // 首个 ping 延后，避免刚连上即写超时
)

// Conn is one local websocket connection of an authenticated user.
// A user may hold several, each with its own queue and topic map.
type Conn struct {
	ID   string
	User store.User
	ws   *websocket.Conn
	log  *zap.Logger

	sendMu sync.Mutex
	send   chan []byte // consumed by writePump only
	closed bool

	closeCode atomic.Int32

	mu    sync.RWMutex
	chats map[string]int64 // chat_guid -> chat_id
}

// NewConn builds a connection; ws may be nil for connections that are only
// drained through Queue.
func NewConn(id string, user store.User, ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 256
	}
	c := &Conn{
		ID:    id,
		User:  user,
		ws:    ws,
		send:  make(chan []byte, queueSize),
		chats: make(map[string]int64),
		log:   logger.With(zap.String("conn_id", id), zap.String("user_guid", user.GUID)),
	}
	c.closeCode.Store(websocket.CloseNormalClosure)
	return c
}

// Send enqueues without blocking; false when the queue is full or closed.
func (c *Conn) Send(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		metrics.Dropped.Inc()
		c.log.Warn("[WS] send queue full, drop frame")
		return false
	}
}

// Logger carries conn_id and user_guid.
func (c *Conn) Logger() *zap.Logger { return c.log }

// Queue exposes the outbound queue for the writer.
func (c *Conn) Queue() <-chan []byte { return c.send }

func (c *Conn) closeQueue() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ChatID looks up a topic in the connection's local map.
func (c *Conn) ChatID(chatGUID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.chats[chatGUID]
	return id, ok
}

// Chats returns a copy of the local topic map.
func (c *Conn) Chats() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.chats))
	for k, v := range c.chats {
		out[k] = v
	}
	return out
}

func (c *Conn) hasChats() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chats) > 0
}

func (c *Conn) setChat(chatGUID string, chatID int64) {
	c.mu.Lock()
	c.chats[chatGUID] = chatID
	c.mu.Unlock()
}

func (c *Conn) dropChat(chatGUID string) {
	c.mu.Lock()
	delete(c.chats, chatGUID)
	c.mu.Unlock()
}

// writePump is the only writer of ws. It ends when the queue is closed or a
// write fails, and then closes the socket with the recorded close code.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		// 统一由写协程发 Close 并关闭底层连接
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(int(c.closeCode.Load()), closeReason(int(c.closeCode.Load()))),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
		c.log.Debug("[WS] writer closed")
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Info("[WS] write payload err", zap.Error(err))
				return
			}
		case <-first.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				c.log.Info("[WS] first ping err", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				c.log.Info("[WS] ping err", zap.Error(err))
				return
			}
		}
	}
}

func closeReason(code int) string {
	if code == websocket.CloseInternalServerErr {
		return "internal error"
	}
	return ""
}
