package broker

import (
	"context"
	"sync"

	"PPChat/logger"
	"PPChat/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker owns one client for PUBLISH and one PubSub handle for every
// subscribed channel. A single pump routes incoming messages to subscriptions.
type RedisBroker struct {
	subSet
	client  *redis.Client
	ps      *redis.PubSub
	bufSize int

	pumpOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisBroker is the adapter's connect(): client must point at the broker DB.
func NewRedisBroker(ctx context.Context, client *redis.Client, bufSize int) *RedisBroker {
	return &RedisBroker{
		subSet:  subSet{subs: make(map[string]*subscription)},
		client:  client,
		ps:      client.Subscribe(ctx),
		bufSize: bufSize,
		done:    make(chan struct{}),
	}
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; ok {
		return nil, ErrAlreadySubscribed
	}
	// register before SUBSCRIBE so nothing published right after is lost
	sub := newSubscription(topic, b.bufSize)
	b.subs[topic] = sub
	if err := b.ps.Subscribe(ctx, topic); err != nil {
		delete(b.subs, topic)
		sub.close()
		return nil, err
	}
	b.pumpOnce.Do(func() { safe.Go("redis-broker-pump", b.pump) })
	return sub, nil
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	sub, ok := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	sub.close()
	return b.ps.Unsubscribe(ctx, topic)
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroker) pump() {
	ch := b.ps.Channel(redis.WithChannelSize(b.bufSize))
	for {
		select {
		case <-b.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			sub := b.get(m.Channel)
			if sub == nil {
				// raced with Unsubscribe
				continue
			}
			sub.deliver([]byte(m.Payload))
		}
	}
}

// Close releases the subscriber handle and the publishing client.
func (b *RedisBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.closeAll()
		if e := b.ps.Close(); e != nil {
			err = e
		}
		if e := b.client.Close(); e != nil && err == nil {
			err = e
		}
		logger.Info("[broker] redis broker closed", zap.Error(err))
	})
	return err
}
