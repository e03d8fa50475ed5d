package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsdesk/internal/cache"
	"newsdesk/internal/digest"
	"newsdesk/internal/feeds"
	"newsdesk/internal/fetcher"
	"newsdesk/internal/model"
	"newsdesk/internal/newsletter"
	"newsdesk/internal/selection"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// FeedFetcher is satisfied by *fetcher.Fetcher.
type FeedFetcher interface {
	Fetch(ctx context.Context, fs []feeds.Feed, intradayHours int) fetcher.Result
}

// Recorder persists generated newsletters and feed health. It is optional.
type Recorder interface {
	SaveNewsletter(ctx context.Context, n *newsletter.Newsletter, selections []model.SelectionResult) error
	RecordSourceStats(ctx context.Context, stats []model.SourceStats) error
}

// Pipeline runs fetch, selection and digest for a category set, reusing the
// layered cache when it can.
type Pipeline struct {
	Registry      *feeds.Registry
	Fetcher       FeedFetcher
	Selector      *selection.Selector
	Digester      *digest.Digester
	Cache         *cache.NewsletterCache
	Recorder      Recorder
	Known         []string // accepted category names
	Defaults      []string // categories for Refresh
	IntradayHours int
	Timeout       time.Duration // bound for one generation, default 5m
	Now           func() time.Time

	group singleflight.Group
}

// Options tunes a single request.
type Options struct {
	Force bool // skip the cache lookup
}

// Result is a served newsletter and where it came from.
type Result struct {
	Newsletter *newsletter.Newsletter
	Source     cache.Source // SourceMiss when freshly generated
	Path       string       // cache file written, if any
}

// Generated reports whether the newsletter was built by this request.
func (r Result) Generated() bool { return r.Source == cache.SourceMiss }

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Newsletter returns the newsletter for raw category names.
func (p *Pipeline) Newsletter(ctx context.Context, raw []string, opts Options) (Result, error) {
	cats, err := newsletter.NormalizeCategories(raw, p.Known)
	if err != nil {
		return Result{}, err
	}
	if !opts.Force && p.Cache != nil {
		if n, src, ok := p.Cache.Get(ctx, cats); ok {
			slog.Debug("pipeline: cache hit", "categories", cats, "source", src)
			return Result{Newsletter: n, Source: src}, nil
		}
	}

	key := newsletter.CategoryKey(cats)
	if opts.Force {
		key += ":force"
	}
	ch := p.group.DoChan(key, func() (any, error) {
		// detached so one caller going away does not fail the others
		gctx := context.WithoutCancel(ctx)
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		gctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		if !opts.Force && p.Cache != nil {
			if n, src, ok := p.Cache.Get(gctx, cats); ok {
				return Result{Newsletter: n, Source: src}, nil
			}
		}
		return p.generate(gctx, cats)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

// Refresh regenerates the default categories, bypassing the cache.
func (p *Pipeline) Refresh(ctx context.Context) (Result, error) {
	return p.Newsletter(ctx, p.Defaults, Options{Force: true})
}

func (p *Pipeline) generate(ctx context.Context, cats []string) (Result, error) {
	start := p.now()
	fs := p.Registry.ForCategories(cats)
	slog.Info("pipeline: generating", "categories", cats, "feeds", len(fs))
	fetched := p.Fetcher.Fetch(ctx, fs, p.IntradayHours)

	sels := make([]model.SelectionResult, len(cats))
	digs := make([]digest.Digest, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cats {
		i, c := i, c
		g.Go(func() error {
			sels[i] = p.Selector.Select(gctx, c, fetched.Articles[c])
			digs[i] = p.Digester.Summarize(gctx, c, sels[i].Selected)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("generate newsletter: %w", err)
	}

	n := newsletter.New(uuid.NewString(), cats, p.now().UTC())
	var allStats []model.SourceStats
	for i, c := range cats {
		stats := fetched.Stats[c]
		if stats == nil {
			stats = []model.SourceStats{}
		}
		allStats = append(allStats, stats...)
		n.InputCounts[c] = len(fetched.Articles[c])
		n.SourceStats[c] = stats
		n.SetSelection(c, sels[i].Selected)
		n.Summaries[c] = digs[i].Summary
		n.Sentiment[c] = digs[i].Sentiment
		if sels[i].Degraded || digs[i].Degraded {
			n.Degraded = append(n.Degraded, c)
		}
	}

	res := Result{Newsletter: n, Source: cache.SourceMiss}
	if p.Cache != nil {
		path, err := p.Cache.Save(ctx, cats, n)
		if err != nil {
			slog.Error("pipeline: cache save failed", "err", err)
		}
		res.Path = path
	}
	if p.Recorder != nil {
		if err := p.Recorder.RecordSourceStats(ctx, allStats); err != nil {
			slog.Error("pipeline: record source stats failed", "err", err)
		}
		if err := p.Recorder.SaveNewsletter(ctx, n, sels); err != nil {
			slog.Error("pipeline: save newsletter failed", "id", n.ID, "err", err)
		}
	}
	slog.Info("pipeline: newsletter ready", "id", n.ID, "categories", cats,
		"degraded", n.Degraded, "took", p.now().Sub(start).Round(time.Millisecond))
	return res, nil
}
