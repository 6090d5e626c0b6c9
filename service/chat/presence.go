package chat

import (
	"context"
	"errors"
	"time"

	"PPChat/global"
	"PPChat/service/store"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

// ActiveChatLister is the slice of the store the monitor needs.
type ActiveChatLister interface {
	ActiveDirectChats(ctx context.Context, userID int64) (map[string]int64, error)
}

// Presence refreshes the per-user flag and announces status changes on topics.
type Presence struct {
	flags    PresenceFlags
	reg      *Registry
	chats    ActiveChatLister
	interval func() time.Duration
}

func NewPresence(flags PresenceFlags, reg *Registry, chats ActiveChatLister) *Presence {
	return &Presence{
		flags:    flags,
		reg:      reg,
		chats:    chats,
		interval: func() time.Duration { return global.Current().PresenceInterval },
	}
}

// WithInterval pins the monitor period.
func (p *Presence) WithInterval(d time.Duration) *Presence {
	p.interval = func() time.Duration { return d }
	return p
}

func statusEvent(u store.User, status string) StatusEvent {
	return StatusEvent{Type: EventStatus, Username: u.Username, UserGUID: u.GUID, Status: status}
}

// MarkOnline renews the flag; with a topic it also broadcasts "online" there.
// A failed flag write does not suppress the broadcast; both errors are returned.
func (p *Presence) MarkOnline(ctx context.Context, c *Conn, topic string) error {
	var flagErr error
	if err := p.flags.MarkOnline(ctx, c.User.ID); err != nil {
		flagErr = errs.WrapMsg(err, "mark online", "user_id", c.User.ID)
	}
	if topic == "" {
		return flagErr
	}
	return errors.Join(flagErr, p.reg.BroadcastToTopic(ctx, topic, statusEvent(c.User, StatusOnline)))
}

// MarkOffline drops the flag and broadcasts "offline" to topic.
func (p *Presence) MarkOffline(ctx context.Context, c *Conn, topic string) error {
	var flagErr error
	if err := p.flags.MarkOffline(ctx, c.User.ID); err != nil {
		flagErr = errs.WrapMsg(err, "mark offline", "user_id", c.User.ID)
	}
	return errors.Join(flagErr, p.reg.BroadcastToTopic(ctx, topic, statusEvent(c.User, StatusOffline)))
}

// Monitor runs until ctx is cancelled or the connection has no topics left.
func (p *Presence) Monitor(ctx context.Context, c *Conn) {
	for {
		if !c.hasChats() {
			c.log.Debug("[presence] no topics, monitor stops")
			return
		}
		if err := p.tick(ctx, c); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("[presence] tick failed", zap.Error(err))
		}
		t := time.NewTimer(p.interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (p *Presence) tick(ctx context.Context, c *Conn) error {
	online, err := p.flags.IsOnline(ctx, c.User.ID)
	if err != nil {
		return errs.WrapMsg(err, "read presence flag", "user_id", c.User.ID)
	}
	status := StatusInactive
	if online {
		status = StatusOnline
	}
	active, err := p.chats.ActiveDirectChats(ctx, c.User.ID)
	if err != nil {
		return err
	}
	ev := statusEvent(c.User, status)
	for guid := range c.Chats() {
		if _, ok := active[guid]; !ok {
			continue
		}
		if err := p.reg.BroadcastToTopic(ctx, guid, ev); err != nil {
			c.log.Warn("[presence] broadcast status", zap.String("topic", guid), zap.Error(err))
		}
	}
	return nil
}
