package broker

import (
	"context"
	"sync/atomic"
)

// MemoryBroker serves a single-process deployment; it has no cross-process reach.
type MemoryBroker struct {
	subSet
	bufSize int
	closed  atomic.Bool
}

func NewMemoryBroker(bufSize int) *MemoryBroker {
	return &MemoryBroker{subSet: subSet{subs: make(map[string]*subscription)}, bufSize: bufSize}
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; ok {
		return nil, ErrAlreadySubscribed
	}
	sub := newSubscription(topic, b.bufSize)
	b.subs[topic] = sub
	return sub, nil
}

func (b *MemoryBroker) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	sub, ok := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if sub := b.get(topic); sub != nil {
		sub.deliver(append([]byte(nil), payload...))
	}
	return nil
}

// Topics lists the currently subscribed topics.
func (b *MemoryBroker) Topics() []string { return b.topics() }

func (b *MemoryBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.closeAll()
	return nil
}
