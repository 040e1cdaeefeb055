package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/NullWinters/GalChat/internal/models"
)

// How many messages to keep per room in the cache tail.
const cacheTailSize = 200

// RecentCache keeps a bounded tail of each room's log in Redis so history
// replay and suggestion-window reads do not hit the durable store. All
// operations are best-effort: a cache failure degrades to store reads.
type RecentCache struct {
	client *redis.Client
}

// NewRecentCache creates a Redis-backed recent-message cache.
func NewRecentCache(ctx context.Context, redisURL string) (*RecentCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RecentCache{client: client}, nil
}

// Client exposes the underlying Redis client for collaborators that share
// the connection (rate limiting).
func (c *RecentCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *RecentCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *RecentCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// roomTailKey returns the key for a room's message sorted set.
func roomTailKey(roomID string) string {
	return fmt.Sprintf("room:%s:tail", roomID)
}

// Add appends a message to the room's cache tail, trimming the tail to its
// bounded size.
func (c *RecentCache) Add(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomTailKey(msg.RoomID)

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Seq),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, key, 0, -(cacheTailSize + 1))
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit of the newest cached messages, oldest-first.
func (c *RecentCache) Recent(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	key := roomTailKey(roomID)

	results, err := c.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	// ZRevRange returns newest-first; flip back to log order.
	reverseMessages(messages)
	return messages, nil
}

// Drop removes a room's cache tail, used when the room is deleted.
func (c *RecentCache) Drop(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, roomTailKey(roomID)).Err()
}
