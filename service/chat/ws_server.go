package chat

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"PPChat/logger"
	"PPChat/middleware/security"
	"PPChat/service/metrics"
	"PPChat/service/storage"
	"PPChat/tools/errs"
	"PPChat/tools/ids"
	"PPChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const teardownTimeout = 5 * time.Second

// HandleWS ===== WebSocket 处理 =====
// The route sits behind security.Middleware, so the user is already resolved.
func (s *Server) HandleWS(c *gin.Context) {
	user, ok := security.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": security.ErrNoUser.Error()})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("[HandleWS] upgrade websocket error", zap.Error(err))
		return
	}
	conn := NewConn(ids.GenerateString(), user, ws, s.opts.SendQueueSize)
	conn.log.Info("[HandleWS] connection accepted", zap.String("remote", ws.RemoteAddr().String()))

	// the request context ends with this handler; the connection outlives neither
	s.Serve(context.Background(), conn)
}

// Serve runs one connection from bootstrap to teardown and returns once the
// writer has closed the socket.
func (s *Server) Serve(ctx context.Context, c *Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	safe.Go("ws-writer", func() {
		defer close(writerDone)
		c.writePump()
	})

	stopPresence := func() { cancel() }
	if err := s.Bootstrap(ctx, c); err != nil {
		c.log.Error("[WS] bootstrap failed", zap.Error(err))
		c.closeCode.Store(websocket.CloseInternalServerErr)
	} else {
		monitorDone := make(chan struct{})
		safe.Go("presence-monitor", func() {
			defer close(monitorDone)
			s.Presence.Monitor(ctx, c)
		})
		stopPresence = func() {
			cancel()
			<-monitorDone
		}
		s.readLoop(ctx, c)
	}

	s.Teardown(c, stopPresence)
	<-writerDone
}

// Bootstrap registers the connection, refreshes presence and joins every
// active direct chat of the user.
func (s *Server) Bootstrap(ctx context.Context, c *Conn) error {
	s.Registry.AddUserConnection(c)
	if err := s.Presence.MarkOnline(ctx, c, ""); err != nil {
		c.log.Warn("[WS] mark online failed", zap.Error(err))
	}
	chats, err := s.Store.ActiveDirectChats(ctx, c.User.ID)
	if err != nil {
		return errs.WrapMsg(err, "load active direct chats", "user_id", c.User.ID)
	}
	for guid, id := range chats {
		if err := s.Registry.Join(ctx, c, guid, id); err != nil {
			return err
		}
	}
	c.log.Debug("[WS] bootstrap done", zap.Int("topics", len(chats)))
	return nil
}

// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
func (s *Server) readLoop(ctx context.Context, c *Conn) {
	if s.opts.MaxFrameBytes > 0 {
		c.ws.SetReadLimit(s.opts.MaxFrameBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.log.Info("[WS] peer closed", zap.Error(err))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.log.Info("[WS] read timeout", zap.Error(err))
			} else {
				c.log.Info("[WS] read err", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.HandleFrame(ctx, c, data); err != nil {
			c.log.Error("[WS] handler failed, closing connection", zap.Error(err))
			c.closeCode.Store(websocket.CloseInternalServerErr)
			return
		}
	}
}

// HandleFrame runs one inbound frame. Recoverable problems are reported to
// the sender and nil is returned; a non-nil error is fatal for the connection.
func (s *Server) HandleFrame(ctx context.Context, c *Conn, raw []byte) error {
	if s.Limiter != nil {
		allowed, retry, err := s.Limiter.Allow(ctx, storage.LimiterKey(c.User.GUID, c.ID))
		if err != nil {
			c.log.Warn("[WS] rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			metrics.Frames.WithLabelValues("", "limited").Inc()
			c.log.Debug("[WS] rate limited", zap.Duration("retry_after", retry))
			s.Registry.SendError(c, errs.ErrTooManyRequests.Msg)
			return nil
		}
	}

	t, err := frameType(raw)
	if err != nil {
		s.reportError(c, "", err)
		return nil
	}
	h, ok := s.disp.GetHandler(t)
	if !ok {
		s.reportError(c, "", errs.ErrUnknownType.WithMsg("Type: %s was not found", t))
		return nil
	}

	err = h.Handle(ctx, &Context{S: s, Conn: c}, raw)
	if err == nil {
		metrics.Frames.WithLabelValues(t, "ok").Inc()
		return nil
	}
	if _, ok := errs.AsCode(err); ok {
		s.reportError(c, t, err)
		return nil
	}
	metrics.Frames.WithLabelValues(t, "fatal").Inc()
	return fmt.Errorf("handle %s: %w", t, err)
}

func (s *Server) reportError(c *Conn, t string, err error) {
	ce, _ := errs.AsCode(err)
	metrics.Frames.WithLabelValues(t, "error").Inc()
	c.log.Debug("[WS] frame rejected", zap.String("type", t), zap.Error(err))
	s.Registry.SendError(c, ce.Msg)
}

// Teardown stops the presence monitor, unsubscribes every local topic with one
// offline broadcast each, forgets the connection and closes its queue.
// stopPresence must return only once the monitor has exited.
func (s *Server) Teardown(c *Conn, stopPresence func()) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if stopPresence != nil {
		stopPresence()
	}
	for guid := range c.Chats() {
		if err := s.Registry.RemoveConnectionFromTopic(ctx, guid, c); err != nil {
			c.log.Warn("[WS] leave topic", zap.String("topic", guid), zap.Error(err))
		}
		if err := s.Presence.MarkOffline(ctx, c, guid); err != nil {
			c.log.Warn("[WS] offline broadcast", zap.String("topic", guid), zap.Error(err))
		}
	}
	s.Registry.RemoveUserConnection(c)
	c.closeQueue()
	c.log.Info("[WS] connection closed")
}
