package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier shares hot newsletter payloads between processes.
type RedisTier struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type redisEnvelope struct {
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

func NewRedisTier(rdb *redis.Client, ttl time.Duration) *RedisTier {
	return &RedisTier{rdb: rdb, prefix: "newsdesk:newsletter:", ttl: ttl, now: time.Now}
}

func (r *RedisTier) key(k string) string { return r.prefix + k }

func (r *RedisTier) Get(ctx context.Context, key string) (Entry, bool) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		slog.Warn("cache: redis get failed", "key", key, "err", err)
		return Entry{}, false
	}
	var env redisEnvelope
	if err := json.Unmarshal(b, &env); err != nil || len(env.Payload) == 0 {
		// invalid entries are dropped and treated as a miss
		_ = r.rdb.Del(ctx, r.key(key)).Err()
		return Entry{}, false
	}
	if r.now().Sub(env.CreatedAt) > r.ttl {
		return Entry{}, false
	}
	return Entry{CreatedAt: env.CreatedAt, Payload: env.Payload}, true
}

func (r *RedisTier) Set(ctx context.Context, key string, e Entry) {
	remaining := r.ttl - r.now().Sub(e.CreatedAt)
	if remaining <= 0 {
		return
	}
	b, err := json.Marshal(redisEnvelope{CreatedAt: e.CreatedAt, Payload: e.Payload})
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, r.key(key), b, remaining).Err(); err != nil {
		slog.Warn("cache: redis set failed", "key", key, "err", err)
	}
}

func (r *RedisTier) Delete(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		slog.Warn("cache: redis delete failed", "key", key, "err", err)
	}
}
