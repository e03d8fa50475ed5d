package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"newsdesk/internal/feeds"
	"newsdesk/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// maxBodyBytes bounds a single feed download.
const maxBodyBytes = 8 << 20

// Options configures a Fetcher. Zero values take the documented defaults.
type Options struct {
	Client            *http.Client
	Timeout           time.Duration // per request, default 10s
	MaxRetries        int           // default 3
	BaseDelay         time.Duration // default 1s
	MaxDelay          time.Duration // default 10s
	MaxItemsPerSource int           // default 5
	Concurrency       int           // default 16
	UserAgent         string
	Now               func() time.Time
}

// Fetcher downloads and parses feeds concurrently.
type Fetcher struct {
	opts   Options
	client *http.Client
}

// Result groups a fetch cycle's output by category.
type Result struct {
	Articles map[string][]model.Article
	Stats    map[string][]model.SourceStats
}

// Count returns the number of articles fetched for category.
func (r Result) Count(category string) int { return len(r.Articles[category]) }

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.MaxItemsPerSource <= 0 {
		opts.MaxItemsPerSource = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := opts.Client
	if c == nil {
		c = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &Fetcher{opts: opts, client: c}
}

type outcome struct {
	articles []model.Article
	err      error
}

// Fetch downloads every feed in parallel and drops entries published before
// now - intradayHours. A failing feed yields an inactive SourceStats entry and
// no articles; it never fails the batch.
func (f *Fetcher) Fetch(ctx context.Context, fs []feeds.Feed, intradayHours int) Result {
	now := f.opts.Now()
	cutoff := now.Add(-time.Duration(intradayHours) * time.Hour)

	// results are index-matched to fs so completion order does not matter
	outcomes := make([]outcome, len(fs))
	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, feed := range fs {
		i, feed := i, feed
		g.Go(func() error {
			arts, err := f.fetchOne(ctx, feed, cutoff, now)
			outcomes[i] = outcome{articles: arts, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Articles: map[string][]model.Article{},
		Stats:    map[string][]model.SourceStats{},
	}
	for i, feed := range fs {
		o := outcomes[i]
		st := model.SourceStats{
			Name:         feed.Source,
			Category:     feed.Category,
			ArticleCount: len(o.articles),
			Status:       model.StatusActive,
			URL:          feed.URL,
		}
		if o.err != nil {
			st.Status = model.StatusInactive
			st.ArticleCount = 0
			st.Error = o.err.Error()
			slog.Warn("fetcher: feed failed", "source", feed.Source, "url", feed.URL, "err", o.err)
		}
		if _, ok := res.Articles[feed.Category]; !ok {
			res.Articles[feed.Category] = []model.Article{}
		}
		res.Articles[feed.Category] = append(res.Articles[feed.Category], o.articles...)
		res.Stats[feed.Category] = append(res.Stats[feed.Category], st)
	}
	for cat, stats := range res.Stats {
		active := 0
		for _, st := range stats {
			if st.Active() {
				active++
			}
		}
		if active == 0 {
			slog.Warn("fetcher: every feed failed for category", "category", cat, "feeds", len(stats))
		}
	}
	return res
}

// fetchOne retries transient failures with exponential backoff.
func (f *Fetcher) fetchOne(ctx context.Context, feed feeds.Feed, cutoff, now time.Time) ([]model.Article, error) {
	var body []byte
	op := func() error {
		b, err := f.get(ctx, feed)
		if err != nil {
			var fe *FeedFetchError
			if errors.As(err, &fe) && !fe.Transient() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.opts.BaseDelay
	eb.MaxInterval = f.opts.MaxDelay
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.opts.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		slog.Debug("fetcher: retrying feed", "source", feed.Source, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return f.parse(feed, body, cutoff, now)
}

func (f *Fetcher) get(ctx context.Context, feed feeds.Feed) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request for %s: %w", feed.URL, err))
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.8")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FeedFetchError{Source: feed.Source, URL: feed.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FeedFetchError{Source: feed.Source, URL: feed.URL, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FeedFetchError{Source: feed.Source, URL: feed.URL, Err: err}
	}
	return b, nil
}

func (f *Fetcher) parse(feed feeds.Feed, body []byte, cutoff, now time.Time) ([]model.Article, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}
	out := make([]model.Article, 0, f.opts.MaxItemsPerSource)
	for _, it := range parsed.Items {
		if len(out) >= f.opts.MaxItemsPerSource {
			break
		}
		if it == nil {
			continue
		}
		published := now
		if it.PublishedParsed != nil {
			published = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			published = *it.UpdatedParsed
		}
		if published.Before(cutoff) {
			continue
		}
		title := CleanHTML(it.Title)
		summary := it.Description
		if summary == "" {
			summary = it.Content
		}
		summary = CleanHTML(summary)
		if title == "" && summary == "" {
			continue
		}
		out = append(out, model.Article{
			Source:         feed.Source,
			Category:       feed.Category,
			Text:           ArticleText(title, summary),
			Title:          title,
			Link:           it.Link,
			Published:      published.UTC().Format(time.RFC3339),
			PublishedAt:    published,
			FreshnessScore: Freshness(now.Sub(published)),
		})
	}
	return out, nil
}
