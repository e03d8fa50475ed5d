package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("storage: not found")

// Cooldown grants an action at most once per window.
type Cooldown interface {
	// Acquire returns true when the action may run now. Otherwise it
	// reports how long until the window closes.
	Acquire(ctx context.Context, name string, window time.Duration) (bool, time.Duration, error)
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func cooldownKey(name string) string {
	return fmt.Sprintf("newsdesk:cooldown:%s", name)
}

func jobKey(id string) string {
	return fmt.Sprintf("newsdesk:podcast:job:%s", id)
}

// Acquire sets the cooldown key only if absent, so concurrent callers across
// processes see exactly one winner per window.
func (s *RedisStore) Acquire(ctx context.Context, name string, window time.Duration) (bool, time.Duration, error) {
	ok, err := s.rdb.SetNX(ctx, cooldownKey(name), time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := s.rdb.PTTL(ctx, cooldownKey(name)).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return false, ttl, nil
}

// PutJob stores a serialized podcast job for ttl.
func (s *RedisStore) PutJob(ctx context.Context, id string, b []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, jobKey(id), b, ttl).Err()
}

// GetJob loads a serialized podcast job.
func (s *RedisStore) GetJob(ctx context.Context, id string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LocalCooldown is the in-process Cooldown used without redis.
type LocalCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewLocalCooldown() *LocalCooldown {
	return &LocalCooldown{until: map[string]time.Time{}, now: time.Now}
}

func (l *LocalCooldown) Acquire(_ context.Context, name string, window time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if u, ok := l.until[name]; ok && now.Before(u) {
		return false, u.Sub(now), nil
	}
	l.until[name] = now.Add(window)
	return true, 0, nil
}
