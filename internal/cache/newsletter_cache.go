package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"newsdesk/internal/newsletter"
)

const (
	filePrefix = "newsletter_"
	fileExt    = ".json"
	stampFmt   = "20060102_150405"
	maxSeq     = 1000
)

// Source tells where a cached newsletter came from.
type Source string

const (
	SourceMiss     Source = ""
	SourceMemory   Source = "memory"
	SourceFile     Source = "file"
	SourceSuperset Source = "superset"
)

// fileEntry is the on-disk document.
type fileEntry struct {
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
	Categories []string        `json:"categories"`
	Payload    json.RawMessage `json:"payload"`
}

// fileName is a parsed cache file name:
// newsletter_<YYYYMMDD>_<HHMMSS>_<catkey>[.<seq>].json
type fileName struct {
	path  string
	date  string
	stamp string // YYYYMMDD_HHMMSS
	key   string
	seq   int
}

// NewsletterCache answers repeated newsletter requests from memory, then an
// exact file match for today, then a filtered superset file for today.
type NewsletterCache struct {
	dir  string
	ttl  time.Duration
	tier Tier
	now  func() time.Time
}

type Options struct {
	Dir  string
	TTL  time.Duration
	Tier Tier // optional
	Now  func() time.Time
}

func NewNewsletterCache(opts Options) (*NewsletterCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &NewsletterCache{dir: opts.Dir, ttl: opts.TTL, tier: opts.Tier, now: opts.Now}, nil
}

// TTL returns the configured lifetime of an entry.
func (c *NewsletterCache) TTL() time.Duration { return c.ttl }

func memKey(date, catKey string) string { return date + ":" + catKey }

// Get looks up cats, which must already be normalized. The read path never
// deletes files.
func (c *NewsletterCache) Get(ctx context.Context, cats []string) (*newsletter.Newsletter, Source, bool) {
	now := c.now().UTC()
	today := now.Format("20060102")
	key := newsletter.CategoryKey(cats)

	if c.tier != nil {
		if e, ok := c.tier.Get(ctx, memKey(today, key)); ok {
			if n, err := decodePayload(e.Payload); err == nil {
				return n, SourceMemory, true
			}
			c.tier.Delete(ctx, memKey(today, key))
		}
	}

	files, err := c.list(today)
	if err != nil {
		slog.Warn("cache: list failed", "dir", c.dir, "err", err)
		return nil, SourceMiss, false
	}

	for _, f := range files {
		if f.key != key {
			continue
		}
		entry, n, err := c.load(f.path)
		if err != nil {
			slog.Debug("cache: skipping unreadable file", "path", f.path, "err", err)
			continue
		}
		if c.expired(entry, now) {
			continue
		}
		if c.tier != nil {
			c.tier.Set(ctx, memKey(today, key), Entry{CreatedAt: entry.CreatedAt, Payload: entry.Payload})
		}
		return n, SourceFile, true
	}

	want := make(map[string]bool, len(cats))
	for _, cat := range cats {
		want[cat] = true
	}
	for _, f := range files {
		if f.key == key || !supersetKey(f.key, want) {
			continue
		}
		entry, n, err := c.load(f.path)
		if err != nil || c.expired(entry, now) || !n.Covers(cats) {
			continue
		}
		slog.Debug("cache: serving filtered superset", "requested", key, "from", f.key)
		return n.Filter(cats), SourceSuperset, true
	}
	return nil, SourceMiss, false
}

// Save writes n to a new timestamped file and refreshes the memory entry for
// its exact category set. Existing files are never overwritten; a second save
// in the same second gets the next sequence suffix.
func (c *NewsletterCache) Save(ctx context.Context, cats []string, n *newsletter.Newsletter) (string, error) {
	cp := *n
	cp.FilteredFromSuperset = false
	payload, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encode newsletter: %w", err)
	}
	created := c.now().UTC()
	key := newsletter.CategoryKey(cats)
	doc, err := json.Marshal(fileEntry{
		CreatedAt:  created,
		TTLSeconds: int64(c.ttl / time.Second),
		Categories: strings.Split(key, "_"),
		Payload:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-newsletter-*")
	if err != nil {
		return "", fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close cache file: %w", err)
	}

	base := filePrefix + created.Format(stampFmt) + "_" + key
	var path string
	for seq := 0; seq < maxSeq; seq++ {
		name := base + fileExt
		if seq > 0 {
			name = base + "." + strconv.Itoa(seq) + fileExt
		}
		candidate := filepath.Join(c.dir, name)
		// a hard link fails when the name exists, so writers never clobber
		err := os.Link(tmpPath, candidate)
		if err == nil {
			path = candidate
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("publish cache file: %w", err)
		}
	}
	if path == "" {
		return "", fmt.Errorf("publish cache file: too many entries for %s", base)
	}

	if c.tier != nil {
		c.tier.Set(ctx, memKey(created.Format("20060102"), key), Entry{CreatedAt: created, Payload: payload})
	}
	slog.Debug("cache: saved newsletter", "path", path)
	return path, nil
}

// Cleanup deletes expired and corrupt files and stale temp files.
func (c *NewsletterCache) Cleanup() (int, error) {
	now := c.now().UTC()
	des, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	removed := 0
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		p := filepath.Join(c.dir, de.Name())
		if strings.HasPrefix(de.Name(), ".tmp-newsletter-") {
			if info, err := de.Info(); err == nil && now.Sub(info.ModTime()) > time.Hour {
				if os.Remove(p) == nil {
					removed++
				}
			}
			continue
		}
		if _, ok := parseFileName(p); !ok {
			continue
		}
		entry, _, err := c.load(p)
		reason := ""
		switch {
		case err != nil:
			reason = "corrupt"
		case c.expired(entry, now):
			reason = "expired"
		default:
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("cache: remove failed", "path", p, "err", err)
			continue
		}
		slog.Debug("cache: removed file", "path", p, "reason", reason)
		removed++
	}
	return removed, nil
}

// FileInfo describes one cache file for listing.
type FileInfo struct {
	Path       string
	Categories []string
	CreatedAt  time.Time
	Expired    bool
	Corrupt    bool
}

// Files lists every cache file, newest first.
func (c *NewsletterCache) Files() ([]FileInfo, error) {
	files, err := c.list("")
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		fi := FileInfo{Path: f.path, Categories: newsletter.ParseCategoryKey(f.key)}
		entry, _, err := c.load(f.path)
		if err != nil {
			fi.Corrupt = true
		} else {
			fi.CreatedAt = entry.CreatedAt
			fi.Expired = c.expired(entry, now)
		}
		out = append(out, fi)
	}
	return out, nil
}

// expired judges a file by the TTL it was written with, falling back to the
// configured one for files that carry none.
func (c *NewsletterCache) expired(e fileEntry, now time.Time) bool {
	ttl := c.ttl
	if e.TTLSeconds > 0 {
		ttl = time.Duration(e.TTLSeconds) * time.Second
	}
	return e.CreatedAt.Add(ttl).Before(now)
}

// load reads and validates a cache file.
func (c *NewsletterCache) load(path string) (fileEntry, *newsletter.Newsletter, error) {
	var e fileEntry
	b, err := os.ReadFile(path)
	if err != nil {
		return e, nil, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, nil, fmt.Errorf("decode cache file: %w", err)
	}
	if e.CreatedAt.IsZero() || len(e.Payload) == 0 {
		return e, nil, fmt.Errorf("cache file missing created_at or payload")
	}
	n, err := decodePayload(e.Payload)
	if err != nil {
		return e, nil, err
	}
	return e, n, nil
}

func decodePayload(b []byte) (*newsletter.Newsletter, error) {
	var n newsletter.Newsletter
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, fmt.Errorf("decode newsletter: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// list returns cache files for date (all dates when empty), newest first.
func (c *NewsletterCache) list(date string) ([]fileName, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var out []fileName
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		f, ok := parseFileName(filepath.Join(c.dir, de.Name()))
		if !ok || (date != "" && f.date != date) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].stamp != out[j].stamp {
			return out[i].stamp > out[j].stamp
		}
		if out[i].seq != out[j].seq {
			return out[i].seq > out[j].seq
		}
		return out[i].key < out[j].key
	})
	return out, nil
}

func parseFileName(path string) (fileName, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return fileName{}, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	seq := 0
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		n, err := strconv.Atoi(rest[i+1:])
		if err != nil || n <= 0 {
			return fileName{}, false
		}
		seq, rest = n, rest[:i]
	}
	// rest = YYYYMMDD_HHMMSS_<catkey>
	if len(rest) < len(stampFmt)+2 || rest[len(stampFmt)] != '_' {
		return fileName{}, false
	}
	stamp := rest[:len(stampFmt)]
	if _, err := time.Parse(stampFmt, stamp); err != nil {
		return fileName{}, false
	}
	return fileName{path: path, date: stamp[:8], stamp: stamp, key: rest[len(stampFmt)+1:], seq: seq}, true
}

// supersetKey reports whether the category key covers every wanted category.
func supersetKey(key string, want map[string]bool) bool {
	have := map[string]bool{}
	for _, c := range newsletter.ParseCategoryKey(key) {
		have[c] = true
	}
	if len(have) <= len(want) {
		return false
	}
	for c := range want {
		if !have[c] {
			return false
		}
	}
	return true
}
