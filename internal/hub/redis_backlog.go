// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/broadcomms/brainstormx/internal/workshop"
)

// RedisBacklog keeps the replay window in a Redis sorted set per session,
// scored by event sequence. It lets several daemon instances serve
// reconnect replay for the same session fleet.
type RedisBacklog struct {
	rdb  *redis.Client
	size int64
	ttl  time.Duration
}

func NewRedisBacklog(rdb *redis.Client, size int, ttl time.Duration) *RedisBacklog {
	return &RedisBacklog{rdb: rdb, size: int64(size), ttl: ttl}
}

func backlogKey(sessionID string) string {
	return "bsx:backlog:" + sessionID
}

func (b *RedisBacklog) Append(ctx context.Context, ev workshop.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("hub: marshal event seq %d: %w", ev.Seq, err)
	}
	key := backlogKey(ev.SessionID)

	pipe := b.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.Seq), Member: payload})
	// Keep only the newest size members.
	pipe.ZRemRangeByRank(ctx, key, 0, -(b.size + 1))
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hub: append backlog for %s: %w", ev.SessionID, err)
	}
	return nil
}

func (b *RedisBacklog) After(ctx context.Context, sessionID string, afterSeq uint64) ([]workshop.Event, error) {
	key := backlogKey(sessionID)
	raw, err := b.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatUint(afterSeq, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("hub: read backlog for %s: %w", sessionID, err)
	}
	out := make([]workshop.Event, 0, len(raw))
	for _, member := range raw {
		var ev workshop.Event
		if err := json.Unmarshal([]byte(member), &ev); err != nil {
			return nil, fmt.Errorf("hub: decode backlog entry for %s: %w", sessionID, err)
		}
		out = append(out, ev)
	}
	if len(out) > 0 && out[0].Seq > afterSeq+1 {
		return nil, ErrBacklogExpired
	}
	return out, nil
}

func (b *RedisBacklog) Drop(ctx context.Context, sessionID string) error {
	if err := b.rdb.Del(ctx, backlogKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("hub: drop backlog for %s: %w", sessionID, err)
	}
	return nil
}

var _ Backlog = (*RedisBacklog)(nil)
