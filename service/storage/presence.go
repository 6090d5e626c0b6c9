package storage

import (
	"context"
	"strconv"
	"time"

	"PPChat/global"

	"github.com/redis/go-redis/v9"
)

const presenceValue = "online"

// presence key: user:<user_id>:status
// Its existence means "online"; the TTL makes it fade to "inactive".
func PresenceKey(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) + ":status" }

// PresenceStore keeps the expiring presence flags in the cache namespace.
type PresenceStore struct {
	rdb redis.Cmdable
	ttl func() time.Duration
}

func NewPresenceStore(rdb redis.Cmdable) *PresenceStore {
	return &PresenceStore{
		rdb: rdb,
		ttl: func() time.Duration { return global.Current().PresenceTTL },
	}
}

// MarkOnline sets the flag and renews its TTL.
func (p *PresenceStore) MarkOnline(ctx context.Context, userID int64) error {
	return p.rdb.Set(ctx, PresenceKey(userID), presenceValue, p.ttl()).Err()
}

// MarkOffline drops the flag right away.
func (p *PresenceStore) MarkOffline(ctx context.Context, userID int64) error {
	return p.rdb.Del(ctx, PresenceKey(userID)).Err()
}

func (p *PresenceStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := p.rdb.Exists(ctx, PresenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
