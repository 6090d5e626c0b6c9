// Package broker is the cross-process transport: one topic per chat, at-least-once,
// no acknowledgement, no ordering across publishers.
package broker

import (
	"context"
	"errors"
	"sync"

	"PPChat/logger"

	"go.uber.org/zap"
)

var (
	ErrAlreadySubscribed = errors.New("broker: topic already subscribed")
	ErrClosed            = errors.New("broker: closed")
)

const DefaultBufferSize = 1024

// Message is one payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is the per-topic subscriber handle. Messages is closed once the
// topic is unsubscribed or the broker is closed.
type Subscription interface {
	Topic() string
	Messages() <-chan Message
}

// Broker is implemented by the Redis, NATS and in-process backends. Errors from
// the transport are returned as is; nothing is retried here.
type Broker interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// subscription is shared by the backends. deliver never blocks the transport:
// a full buffer drops the message.
type subscription struct {
	topic  string
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func newSubscription(topic string, size int) *subscription {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &subscription{topic: topic, ch: make(chan Message, size)}
}

func (s *subscription) Topic() string            { return s.topic }
func (s *subscription) Messages() <-chan Message { return s.ch }

func (s *subscription) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- Message{Topic: s.topic, Payload: payload}:
		return true
	default:
		logger.Warn("[broker] subscriber buffer full, dropping message", zap.String("topic", s.topic))
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// registry of live subscriptions, embedded by every backend
type subSet struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

func (s *subSet) get(topic string) *subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[topic]
}

func (s *subSet) topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

func (s *subSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, sub := range s.subs {
		sub.close()
		delete(s.subs, t)
	}
}
