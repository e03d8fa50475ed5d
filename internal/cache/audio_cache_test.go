package cache

import (
	"os"
	"testing"
	"time"
)

func TestAudioCacheExactMatchOnly(t *testing.T) {
	clk := newClock()
	a, err := NewAudioCache(t.TempDir(), time.Hour, clk.Now)
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.Save([]string{"us", "ai"}, []byte("mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := a.Lookup([]string{"ai", "us"}); !ok || got != p {
		t.Fatalf("expected exact hit regardless of order, got %q %v", got, ok)
	}
	if _, ok := a.Lookup([]string{"us"}); ok {
		t.Fatalf("subset must not reuse superset audio")
	}
	if _, ok := a.Lookup([]string{"ai", "crypto", "us"}); ok {
		t.Fatalf("superset request must miss")
	}
	if a.Key([]string{"us", "ai"}) != "20261019_ai_us" {
		t.Fatalf("unexpected key %q", a.Key([]string{"us", "ai"}))
	}
	if _, err := a.Save([]string{"us"}, nil); err == nil {
		t.Fatalf("empty audio must be rejected")
	}
}

func TestAudioCacheCleanup(t *testing.T) {
	clk := newClock()
	a, err := NewAudioCache(t.TempDir(), time.Hour, clk.Now)
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.Save([]string{"us"}, []byte("mp3"))
	if err != nil {
		t.Fatal(err)
	}
	old := clk.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(p, old, old); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Lookup([]string{"us"}); ok {
		t.Fatalf("stale audio must miss")
	}
	n, err := a.Cleanup()
	if err != nil || n != 1 {
		t.Fatalf("cleanup = %d, %v", n, err)
	}
}
