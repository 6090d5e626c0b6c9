// Package chattest provides in-memory collaborators for relay tests.
package chattest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"PPChat/service/broker"
	"PPChat/service/chat"
	"PPChat/service/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu         sync.Mutex
	nextMsgID  int64
	users      map[int64]store.User
	chats      map[string]*store.Chat // guid -> chat
	messages   map[string]*store.Message
	watermarks map[[2]int64]int64 // (user, chat) -> last read
	FailCreate error
}

func NewStore() *Store {
	return &Store{
		nextMsgID:  100,
		users:      make(map[int64]store.User),
		chats:      make(map[string]*store.Chat),
		messages:   make(map[string]*store.Message),
		watermarks: make(map[[2]int64]int64),
	}
}

func (s *Store) AddUser(u store.User) store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return u
}

// AddChat registers a direct chat between two users.
func (s *Store) AddChat(id int64, guid string, a, b store.User) *store.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := &store.Chat{ID: id, GUID: guid, CreatedAt: now, UpdatedAt: now, Users: []store.User{a, b}}
	s.chats[guid] = c
	return c
}

// MessageCount is the number of persisted messages.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) Watermark(userID, chatID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[[2]int64{userID, chatID}]
}

func (s *Store) ChatIDByGUID(_ context.Context, guid string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[guid]
	if !ok {
		return 0, store.ErrNotFound
	}
	return c.ID, nil
}

func (s *Store) MessageByGUID(_ context.Context, guid string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[guid]
	if !ok || m.IsDeleted {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) MarkLastRead(_ context.Context, userID, chatID, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int64{userID, chatID}
	if messageID <= s.watermarks[k] {
		return false, nil
	}
	s.watermarks[k] = messageID
	return true, nil
}

func (s *Store) ActiveDirectChats(_ context.Context, userID int64) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for guid, c := range s.chats {
		for _, u := range c.Users {
			if u.ID == userID {
				out[guid] = c.ID
			}
		}
	}
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, chatID, senderID int64, content string) (*store.Message, *store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return nil, nil, s.FailCreate
	}
	var c *store.Chat
	for _, ch := range s.chats {
		if ch.ID == chatID {
			c = ch
		}
	}
	if c == nil {
		return nil, nil, errors.New("chat not found")
	}
	s.nextMsgID++
	m := &store.Message{
		ID:        s.nextMsgID,
		GUID:      fmt.Sprintf("00000000-0000-4000-8000-%012d", s.nextMsgID),
		ChatID:    chatID,
		UserID:    senderID,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	s.messages[m.GUID] = m
	c.UpdatedAt = m.CreatedAt
	cp, cc := *m, *c
	return &cp, &cc, nil
}

func (s *Store) UserByLogin(_ context.Context, login string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == login {
			cp := u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ChatMessages(_ context.Context, chatID, viewerID int64, limit int) ([]store.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w store.Watermarks
	var out []store.MessageView
	for k, v := range s.watermarks {
		if k[1] != chatID {
			continue
		}
		if k[0] == viewerID {
			w.Mine = v
		} else {
			w.Other = v
		}
	}
	for _, m := range s.messages {
		if m.ChatID == chatID && !m.IsDeleted {
			out = append(out, store.MessageView{Message: *m, UserGUID: s.users[m.UserID].GUID})
		}
	}
	// newest limit messages, oldest first, like the SQL store
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	store.ApplyReadState(viewerID, w, out)
	return out, nil
}

// Flags is an in-memory presence flag set. See SetFail.
type Flags struct {
	mu     sync.Mutex
	online map[int64]bool
	fail   error
}

func NewFlags() *Flags { return &Flags{online: make(map[int64]bool)} }

func (f *Flags) MarkOnline(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.online[userID] = true
	return nil
}

func (f *Flags) MarkOffline(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	delete(f.online, userID)
	return nil
}

// SetFail makes every later flag write return err; nil restores them.
func (f *Flags) SetFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *Flags) IsOnline(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID], nil
}

// Cache records invalidations.
type Cache struct {
	mu          sync.Mutex
	Messages    []string
	DirectChats []string
}

func (c *Cache) InvalidateMessages(_ context.Context, chatGUID string) (int, error) {
	c.mu.Lock()
	c.Messages = append(c.Messages, chatGUID)
	c.mu.Unlock()
	return 1, nil
}

func (c *Cache) InvalidateDirectChats(_ context.Context, userGUID string) (int, error) {
	c.mu.Lock()
	c.DirectChats = append(c.DirectChats, userGUID)
	c.mu.Unlock()
	return 1, nil
}

// Broker wraps the in-process broker and records what was published.
type Broker struct {
	*broker.MemoryBroker
	mu        sync.Mutex
	published []broker.Message
	subs      []string
}

func NewBroker() *Broker { return &Broker{MemoryBroker: broker.NewMemoryBroker(64)} }

func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	b.mu.Lock()
	b.subs = append(b.subs, topic)
	b.mu.Unlock()
	return b.MemoryBroker.Subscribe(ctx, topic)
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.published = append(b.published, broker.Message{Topic: topic, Payload: payload})
	b.mu.Unlock()
	return b.MemoryBroker.Publish(ctx, topic, payload)
}

// Published returns the decoded frames published so far.
func (b *Broker) Published() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Frame, 0, len(b.published))
	for _, m := range b.published {
		f := Frame{"_topic": m.Topic}
		_ = json.Unmarshal(m.Payload, &f)
		out = append(out, f)
	}
	return out
}

// SubscribeCount is how many broker subscriptions were opened for topic.
func (b *Broker) SubscribeCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.subs {
		if t == topic {
			n++
		}
	}
	return n
}

// Limiter allows until Deny is set.
type Limiter struct {
	mu   sync.Mutex
	Deny bool
}

func (l *Limiter) Allow(context.Context, string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Deny {
		return false, time.Second, nil
	}
	return true, 0, nil
}

// Env is a relay wired to in-memory collaborators.
type Env struct {
	Server  *chat.Server
	Store   *Store
	Flags   *Flags
	Cache   *Cache
	Broker  *Broker
	Limiter *Limiter
}

// NewEnv builds an Env; register adds handlers before the table is sealed.
func NewEnv(t *testing.T, register func(*chat.Dispatcher)) *Env {
	t.Helper()
	e := &Env{
		Store:   NewStore(),
		Flags:   NewFlags(),
		Cache:   &Cache{},
		Broker:  NewBroker(),
		Limiter: &Limiter{},
	}
	reg := chat.NewRegistry(e.Broker)
	presence := chat.NewPresence(e.Flags, reg, e.Store).WithInterval(time.Hour)
	disp := chat.NewDispatcher()
	if register != nil {
		register(disp)
	}
	disp.Seal()
	e.Server = chat.NewServer(reg, e.Store, presence, e.Cache, e.Limiter, nil, disp, chat.Options{SendQueueSize: 64, NodeID: 1})
	t.Cleanup(func() { _ = e.Broker.Close() })
	return e
}

// Connect bootstraps a socket-less connection for u.
func (e *Env) Connect(t *testing.T, id string, u store.User) *chat.Conn {
	t.Helper()
	c := chat.NewConn(id, u, nil, 64)
	if err := e.Server.Bootstrap(context.Background(), c); err != nil {
		t.Fatalf("bootstrap %s: %v", id, err)
	}
	return c
}

// Frame is one decoded outbound frame.
type Frame map[string]any

func (f Frame) Type() string {
	s, _ := f["type"].(string)
	return s
}

// Next waits for the next frame queued on c.
func Next(t *testing.T, c *chat.Conn) Frame {
	t.Helper()
	select {
	case b, ok := <-c.Queue():
		if !ok {
			t.Fatalf("queue of %s closed", c.ID)
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.ID)
	}
	return nil
}

// NextOfType skips frames until one of type typ arrives.
func NextOfType(t *testing.T, c *chat.Conn, typ string) Frame {
	t.Helper()
	for {
		if f := Next(t, c); f.Type() == typ {
			return f
		}
	}
}

// Drain discards whatever is queued on c after a short settle period.
func Drain(c *chat.Conn) []Frame {
	var out []Frame
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case b, ok := <-c.Queue():
			if !ok {
				return out
			}
			var f Frame
			_ = json.Unmarshal(b, &f)
			out = append(out, f)
		case <-deadline:
			return out
		}
	}
}

// Send runs one raw frame through the server as c.
func (e *Env) Send(t *testing.T, c *chat.Conn, raw string) error {
	t.Helper()
	return e.Server.HandleFrame(context.Background(), c, []byte(raw))
}
