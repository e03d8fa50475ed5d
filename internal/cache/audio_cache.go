package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"newsdesk/internal/newsletter"
)

// AudioCache stores podcast audio keyed by date and the exact category set.
// Unlike NewsletterCache it never derives an answer from a superset: audio
// covering extra categories would play content nobody asked for.
type AudioCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

func NewAudioCache(dir string, ttl time.Duration, now func() time.Time) (*AudioCache, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}
	return &AudioCache{dir: dir, ttl: ttl, now: now}, nil
}

// Key is the date plus sorted category string, e.g. "20261019_ai_us".
func (a *AudioCache) Key(cats []string) string {
	return a.now().UTC().Format("20060102") + "_" + newsletter.CategoryKey(cats)
}

func (a *AudioCache) path(cats []string) string {
	return filepath.Join(a.dir, "podcast_"+a.Key(cats)+".mp3")
}

// Lookup returns the audio file for exactly cats when present and fresh.
func (a *AudioCache) Lookup(cats []string) (string, bool) {
	p := a.path(cats)
	info, err := os.Stat(p)
	if err != nil || info.Size() == 0 {
		return "", false
	}
	if a.now().Sub(info.ModTime()) > a.ttl {
		return "", false
	}
	return p, true
}

// Save atomically replaces the audio for cats.
func (a *AudioCache) Save(cats []string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("audio cache: empty audio")
	}
	p := a.path(cats)
	tmp, err := os.CreateTemp(a.dir, ".tmp-podcast-*")
	if err != nil {
		return "", fmt.Errorf("create temp audio file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close audio: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("publish audio: %w", err)
	}
	return p, nil
}

// Cleanup removes audio older than the TTL.
func (a *AudioCache) Cleanup() (int, error) {
	des, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio cache dir: %w", err)
	}
	now := a.now()
	removed := 0
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !(strings.HasPrefix(name, "podcast_") || strings.HasPrefix(name, ".tmp-podcast-")) {
			continue
		}
		info, err := de.Info()
		if err != nil || now.Sub(info.ModTime()) <= a.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		removed++
	}
	return removed, nil
}
