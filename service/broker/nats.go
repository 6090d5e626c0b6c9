package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type NatsConfig struct {
	Servers       []string
	Name          string
	User          string
	Pass          string
	ReconnectWait time.Duration
	Timeout       time.Duration
	BufferSize    int
}

// NatsBroker maps topics to core NATS subjects (no JetStream: at-least-once is
// not promised by core NATS either, which matches the contract).
type NatsBroker struct {
	subSet
	nc      *nats.Conn
	natsSub map[string]*nats.Subscription // guarded by subSet.mu
	bufSize int
}

func NewNatsBroker(cfg NatsConfig) (*NatsBroker, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Pass))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{
		subSet:  subSet{subs: make(map[string]*subscription)},
		nc:      nc,
		natsSub: make(map[string]*nats.Subscription),
		bufSize: cfg.BufferSize,
	}, nil
}

func natsSubject(topic string) string { return "chat." + topic }

func (b *NatsBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; ok {
		return nil, ErrAlreadySubscribed
	}
	sub := newSubscription(topic, b.bufSize)
	ns, err := b.nc.Subscribe(natsSubject(topic), func(m *nats.Msg) {
		sub.deliver(append([]byte(nil), m.Data...))
	})
	if err != nil {
		return nil, err
	}
	_ = ns.SetPendingLimits(1_000_000, 64*1024*1024)
	b.subs[topic] = sub
	b.natsSub[topic] = ns
	return sub, nil
}

func (b *NatsBroker) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	sub, ok := b.subs[topic]
	ns := b.natsSub[topic]
	delete(b.subs, topic)
	delete(b.natsSub, topic)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	sub.close()
	if ns != nil {
		return ns.Unsubscribe()
	}
	return nil
}

func (b *NatsBroker) Publish(_ context.Context, topic string, payload []byte) error {
	return b.nc.Publish(natsSubject(topic), payload)
}

func (b *NatsBroker) Close() error {
	b.closeAll()
	b.mu.Lock()
	b.natsSub = make(map[string]*nats.Subscription)
	b.mu.Unlock()
	return b.nc.Drain()
}
