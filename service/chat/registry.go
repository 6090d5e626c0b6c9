package chat

import (
	"context"
	"encoding/json"
	"sync"

	"PPChat/logger"
	"PPChat/service/broker"
	"PPChat/service/metrics"
	"PPChat/tools/errs"
	"PPChat/tools/safe"

	"go.uber.org/zap"
)

type connSet map[*Conn]struct{}

// Registry owns this process's topic -> connections and user -> connections
// maps. A topic is subscribed at the broker exactly while its set is non-empty;
// the broker call happens under mu so the 0->1 and 1->0 transitions are atomic
// with respect to concurrent connects and disconnects.
type Registry struct {
	broker broker.Broker

	mu     sync.RWMutex
	topics map[string]connSet // chat_guid -> conns
	byUser map[string]connSet // user_guid -> conns
}

func NewRegistry(b broker.Broker) *Registry {
	safe.MustNotNil(b, "broker")
	return &Registry{
		broker: b,
		topics: make(map[string]connSet),
		byUser: make(map[string]connSet),
	}
}

// AddConnectionToTopic is idempotent per connection.
func (r *Registry) AddConnectionToTopic(ctx context.Context, topic string, c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok {
		sub, err := r.broker.Subscribe(ctx, topic)
		if err != nil {
			return errs.WrapMsg(err, "broker subscribe", "topic", topic)
		}
		set = make(connSet)
		r.topics[topic] = set
		metrics.Topics.Inc()
		safe.Go("topic-reader", func() { r.read(sub) })
	}
	set[c] = struct{}{}
	return nil
}

// RemoveConnectionFromTopic is a no-op for an absent topic or connection.
func (r *Registry) RemoveConnectionFromTopic(ctx context.Context, topic string, c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok {
		return nil
	}
	delete(set, c)
	if len(set) > 0 {
		return nil
	}
	delete(r.topics, topic)
	metrics.Topics.Dec()
	if err := r.broker.Unsubscribe(ctx, topic); err != nil {
		return errs.WrapMsg(err, "broker unsubscribe", "topic", topic)
	}
	return nil
}

// Join records chatGUID -> chatID on the connection and subscribes it to the
// topic. Any handler may call it when a connection discovers a chat.
func (r *Registry) Join(ctx context.Context, c *Conn, chatGUID string, chatID int64) error {
	c.setChat(chatGUID, chatID)
	if err := r.AddConnectionToTopic(ctx, chatGUID, c); err != nil {
		c.dropChat(chatGUID)
		return err
	}
	return nil
}

// BroadcastToTopic publishes v to every process subscribed to topic,
// this one included. It does not check local membership.
func (r *Registry) BroadcastToTopic(ctx context.Context, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errs.WrapMsg(err, "marshal broadcast", "topic", topic)
	}
	if err := r.broker.Publish(ctx, topic, b); err != nil {
		metrics.PublishErrors.Inc()
		return errs.WrapMsg(err, "broker publish", "topic", topic)
	}
	return nil
}

// SendJSON pushes v to one local connection only.
func (r *Registry) SendJSON(c *Conn, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal direct push", zap.Error(err))
		return false
	}
	return c.Send(b)
}

// SendError sends {status:"error", message} to one connection only.
func (r *Registry) SendError(c *Conn, message string) {
	r.SendJSON(c, ErrorFrame{Status: "error", Message: message})
}

func (r *Registry) AddUserConnection(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// user 索引
	set := r.byUser[c.User.GUID]
	if set == nil {
		set = make(connSet)
		r.byUser[c.User.GUID] = set
	}
	set[c] = struct{}{}
	metrics.Connections.Inc()
}

func (r *Registry) RemoveUserConnection(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[c.User.GUID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.byUser, c.User.GUID)
	}
	metrics.Connections.Dec()
}

// UserConnections lists the local connections of one user.
func (r *Registry) UserConnections(userGUID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userGUID].list()
}

// TopicConnections snapshots the local connections subscribed to topic.
func (r *Registry) TopicConnections(topic string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topics[topic].list()
}

// Topics lists the topics this process is subscribed to.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	return out
}

func (s connSet) list() []*Conn {
	if len(s) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// read is the per-topic reader; it ends when the subscription is closed.
func (r *Registry) read(sub broker.Subscription) {
	logger.Debug("[registry] topic reader started", zap.String("topic", sub.Topic()))
	for m := range sub.Messages() {
		r.deliver(m)
	}
	logger.Debug("[registry] topic reader stopped", zap.String("topic", sub.Topic()))
}

// deliver fans one broker message out to the current local set. A panic here
// is logged and the reader moves on to the next message.
func (r *Registry) deliver(m broker.Message) {
	defer safe.Recover("topic-reader:" + m.Topic)
	fanout(r.TopicConnections(m.Topic), m.Payload)
}
