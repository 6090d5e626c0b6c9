package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Response cache keys written by the HTTP surface.
func MessagesPattern(chatGUID string) string { return "messages_" + chatGUID + "_*" }
func DirectChatsKey(userGUID string) string  { return "direct_chats_" + userGUID }

// ResponseCache only invalidates; the HTTP surface owns reads and writes.
type ResponseCache struct {
	rdb redis.Cmdable
}

func NewResponseCache(rdb redis.Cmdable) *ResponseCache {
	return &ResponseCache{rdb: rdb}
}

// InvalidateMessages drops every cached page of a chat's message list.
func (c *ResponseCache) InvalidateMessages(ctx context.Context, chatGUID string) (int, error) {
	return c.deletePattern(ctx, MessagesPattern(chatGUID))
}

// InvalidateDirectChats drops a user's cached direct-chat list.
func (c *ResponseCache) InvalidateDirectChats(ctx context.Context, userGUID string) (int, error) {
	return c.deletePattern(ctx, DirectChatsKey(userGUID))
}

func (c *ResponseCache) deletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		deleted int
		batch   = make([]string, 0, scanBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		deleted += int(n)
		batch = batch[:0]
		return err
	}

	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, flush()
}
