package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsdesk/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewRedisStore(rdb)
	ctx := context.Background()

	ok, _, err := s.Acquire(ctx, "refresh", 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, remaining, err := s.Acquire(ctx, "refresh", 5*time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should be refused: %v %v", ok, err)
	}
	if remaining <= 0 || remaining > 5*time.Minute {
		t.Fatalf("unexpected remaining %v", remaining)
	}
	mr.FastForward(5*time.Minute + time.Second)
	if ok, _, _ := s.Acquire(ctx, "refresh", 5*time.Minute); !ok {
		t.Fatalf("cooldown should expire")
	}
}

func TestRedisJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewRedisStore(rdb)
	ctx := context.Background()
	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutJob(ctx, "j1", []byte(`{"id":"j1"}`), time.Hour); err != nil {
		t.Fatal(err)
	}
	b, err := s.GetJob(ctx, "j1")
	if err != nil || string(b) != `{"id":"j1"}` {
		t.Fatalf("got %s, %v", b, err)
	}
}

func TestLocalCooldown(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l := NewLocalCooldown()
	l.now = func() time.Time { return now }
	ctx := context.Background()
	if ok, _, _ := l.Acquire(ctx, "x", time.Minute); !ok {
		t.Fatalf("first acquire should pass")
	}
	now = now.Add(20 * time.Second)
	ok, remaining, _ := l.Acquire(ctx, "x", time.Minute)
	if ok || remaining != 40*time.Second {
		t.Fatalf("got %v %v", ok, remaining)
	}
	if ok, _, _ := l.Acquire(ctx, "y", time.Minute); !ok {
		t.Fatalf("names are independent")
	}
	now = now.Add(41 * time.Second)
	if ok, _, _ := l.Acquire(ctx, "x", time.Minute); !ok {
		t.Fatalf("window should have closed")
	}
}

func TestApplyStats(t *testing.T) {
	p := &FeedProvider{}
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ApplyStats(p, model.SourceStats{Name: "A", Status: model.StatusActive, ArticleCount: 4}, at)
	ApplyStats(p, model.SourceStats{Name: "A", Status: model.StatusInactive, Error: "timeout"}, at)
	ApplyStats(p, model.SourceStats{Name: "A", Status: model.StatusActive, ArticleCount: 2}, at)
	ApplyStats(p, model.SourceStats{Name: "A", Status: model.StatusInactive, Error: "503"}, at)
	if p.FetchCount != 4 || p.SuccessCount != 2 || p.ArticleCount != 6 {
		t.Fatalf("unexpected counters: %+v", p)
	}
	if p.Reliability != 0.5 || p.LastStatus != model.StatusInactive || p.LastError != "503" {
		t.Fatalf("unexpected state: %+v", p)
	}
}

func TestSince(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if got := Since(now, 0); !got.Equal(now.AddDate(0, 0, -1)) {
		t.Fatalf("zero days should clamp to 1, got %v", got)
	}
	if got := Since(now, 9999); !got.Equal(now.AddDate(0, 0, -365)) {
		t.Fatalf("large lookback should clamp to 365, got %v", got)
	}
}
