package chat

import (
	"context"
	"net/http"
	"time"

	"PPChat/service/sink"
	"PPChat/service/store"
	"PPChat/tools/safe"

	"github.com/gorilla/websocket"
)

// PresenceFlags is the expiring per-user online flag in the cache.
type PresenceFlags interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// CacheInvalidator drops cached HTTP responses touched by a chat event.
type CacheInvalidator interface {
	InvalidateMessages(ctx context.Context, chatGUID string) (int, error)
	InvalidateDirectChats(ctx context.Context, userGUID string) (int, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type Options struct {
	SendQueueSize int
	MaxFrameBytes int64
	NodeID        int64
}

// Server wires the relay collaborators together; one per process.
type Server struct {
	Registry *Registry
	Store    store.Store
	Presence *Presence
	Cache    CacheInvalidator
	Limiter  Limiter
	Sink     sink.Sink

	opts     Options
	disp     *Dispatcher
	upgrader websocket.Upgrader
}

func NewServer(reg *Registry, st store.Store, pr *Presence, cache CacheInvalidator,
	lim Limiter, sk sink.Sink, disp *Dispatcher, opts Options) *Server {
	safe.MustNotNil(reg, "registry")
	safe.MustNotNil(st, "store")
	safe.MustNotNil(pr, "presence")
	safe.MustNotNil(disp, "dispatcher")
	if sk == nil {
		sk = sink.Noop{}
	}
	s := &Server{
		Registry: reg,
		Store:    st,
		Presence: pr,
		Cache:    cache,
		Limiter:  lim,
		Sink:     sk,
		opts:     opts,
		disp:     disp,
	}
	// origin is checked by middleware.Origin before the upgrade
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return s
}

func (s *Server) NodeID() int64 { return s.opts.NodeID }
