package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached payload and the time it was generated.
type Entry struct {
	CreatedAt time.Time
	Payload   []byte
}

// Tier is a fast key/value layer in front of the file cache. Implementations
// treat backend errors as misses.
type Tier interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, e Entry)
	Delete(ctx context.Context, key string)
}

// Memory is an in-process TTL map. Call Close to stop its sweeper.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry

	stop chan struct{}
	once sync.Once
}

// NewMemory returns a memory tier whose entries expire ttl after CreatedAt.
// sweep > 0 starts a background goroutine evicting expired entries.
func NewMemory(ttl, sweep time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	m := &Memory{ttl: ttl, now: now, entries: map[string]Entry{}, stop: make(chan struct{})}
	if sweep > 0 {
		go m.sweepLoop(sweep)
	}
	return m
}

func (m *Memory) expired(e Entry) bool {
	return m.now().Sub(e.CreatedAt) > m.ttl
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	if m.expired(e) {
		delete(m.entries, key)
		return Entry{}, false
	}
	return e, true
}

func (m *Memory) Set(_ context.Context, key string, e Entry) {
	if m.expired(e) {
		return
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.Sweep()
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep evicts expired entries.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Close stops the sweeper and drops all entries.
func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stop)
		m.mu.Lock()
		m.entries = map[string]Entry{}
		m.mu.Unlock()
	})
	return nil
}

// chain consults tiers in order and backfills the faster ones on a hit.
type chain []Tier

// Chain layers tiers, fastest first. Nil tiers are skipped.
func Chain(tiers ...Tier) Tier {
	var c chain
	for _, t := range tiers {
		if t != nil {
			c = append(c, t)
		}
	}
	return c
}

func (c chain) Get(ctx context.Context, key string) (Entry, bool) {
	for i, t := range c {
		if e, ok := t.Get(ctx, key); ok {
			for j := 0; j < i; j++ {
				c[j].Set(ctx, key, e)
			}
			return e, true
		}
	}
	return Entry{}, false
}

func (c chain) Set(ctx context.Context, key string, e Entry) {
	for _, t := range c {
		t.Set(ctx, key, e)
	}
}

func (c chain) Delete(ctx context.Context, key string) {
	for _, t := range c {
		t.Delete(ctx, key)
	}
}
