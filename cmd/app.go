package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsdesk/internal/ai"
	"newsdesk/internal/cache"
	"newsdesk/internal/config"
	"newsdesk/internal/digest"
	"newsdesk/internal/feeds"
	"newsdesk/internal/fetcher"
	"newsdesk/internal/newsletter"
	"newsdesk/internal/pipeline"
	"newsdesk/internal/podcast"
	"newsdesk/internal/redisclient"
	"newsdesk/internal/selection"
	"newsdesk/internal/storage"

	"github.com/redis/go-redis/v9"
)

// app holds the wired components shared by subcommands.
type app struct {
	cfg         config.Config
	registry    *feeds.Registry
	fetcher     *fetcher.Fetcher
	memory      *cache.Memory
	newsletters *cache.NewsletterCache
	audio       *cache.AudioCache
	pipeline    *pipeline.Pipeline
	podcasts    *podcast.Service // nil without OpenAI credentials
	store       *storage.Store   // nil without a database
	rdb         *redis.Client    // nil when redis is disabled
	cooldown    storage.Cooldown
}

func buildApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, cooldown: storage.NewLocalCooldown()}

	reg, err := feeds.Load(cfg.Feeds.RegistryFile)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	a.fetcher = fetcher.New(fetcher.Options{
		Timeout:           config.Duration(cfg.Feeds.RequestTimeout, 10*time.Second),
		MaxRetries:        cfg.Feeds.MaxRetries,
		BaseDelay:         config.Duration(cfg.Feeds.RetryBaseDelay, time.Second),
		MaxDelay:          config.Duration(cfg.Feeds.RetryMaxDelay, 10*time.Second),
		MaxItemsPerSource: cfg.Feeds.MaxItemsPerSource,
		Concurrency:       cfg.Feeds.Concurrency,
		UserAgent:         cfg.Feeds.UserAgent,
	})

	ttl := config.Duration(cfg.Cache.TTL, time.Hour)
	a.memory = cache.NewMemory(ttl, time.Minute, nil)
	var tier cache.Tier = a.memory
	if cfg.Redis.Enabled {
		a.rdb = redisclient.New(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := a.rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			slog.Warn("redis unreachable, using in-process cache and cooldown only", "addr", cfg.Redis.Addr, "err", err)
			a.rdb.Close()
			a.rdb = nil
		} else {
			rs := storage.NewRedisStore(a.rdb)
			a.cooldown = rs
			tier = cache.Chain(a.memory, cache.NewRedisTier(a.rdb, ttl))
		}
	}
	a.newsletters, err = cache.NewNewsletterCache(cache.Options{Dir: cfg.Cache.Dir, TTL: ttl, Tier: tier})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.audio, err = cache.NewAudioCache(cfg.Cache.AudioDir, config.Duration(cfg.Cache.AudioTTL, 24*time.Hour), nil)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Database.DSN != "" {
		st, err := storage.Open(cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = st
	}

	var llm ai.LLM
	var oa *ai.OpenAIClient
	if cfg.OpenAI.APIKey != "" {
		oa = ai.NewOpenAI(ai.Config{APIKey: cfg.OpenAI.APIKey, Model: cfg.OpenAI.Model, TTSModel: cfg.OpenAI.TTSModel, BaseURL: cfg.OpenAI.BaseURL})
		llm = oa
	} else {
		slog.Warn("openai.api_key not set: ranking falls back to freshness and podcasts are disabled")
	}

	a.pipeline = &pipeline.Pipeline{
		Registry: reg,
		Fetcher:  a.fetcher,
		Selector: &selection.Selector{
			LLM:            llm,
			MaxCount:       cfg.Selection.MaxArticlesPerCategory,
			PrefilterLimit: cfg.Selection.PrefilterLimit,
			Rules:          cfg.Selection.Rules,
		},
		Digester:      &digest.Digester{LLM: llm},
		Cache:         a.newsletters,
		Known:         cfg.Categories,
		Defaults:      cfg.DefaultCategories,
		IntradayHours: cfg.Feeds.IntradayHours,
	}
	if a.store != nil {
		a.pipeline.Recorder = a.store
	}

	if oa != nil {
		pc := podcast.Config{
			LLM:       llm,
			TTS:       oa,
			Audio:     a.audio,
			Known:     cfg.Categories,
			Voices:    cfg.OpenAI.Voices,
			BatchSize: cfg.Podcast.BatchSize,
			MaxLines:  cfg.Podcast.MaxLines,
			Newsletters: func(ctx context.Context, cats []string) (*newsletter.Newsletter, error) {
				res, err := a.pipeline.Newsletter(ctx, cats, pipeline.Options{})
				return res.Newsletter, err
			},
		}
		if a.rdb != nil {
			pc.Store = storage.NewRedisStore(a.rdb)
		}
		a.podcasts = podcast.NewService(pc)
	}
	return a, nil
}

// Location returns the configured timezone, validated at startup.
func (a *app) Location() *time.Location {
	loc, err := time.LoadLocation(a.cfg.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *app) Close() {
	if a.podcasts != nil {
		a.podcasts.Close()
	}
	if a.memory != nil {
		a.memory.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("close database", "err", err)
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

func describeSource(src cache.Source) string {
	if src == cache.SourceMiss {
		return "generated"
	}
	return fmt.Sprintf("cache (%s)", src)
}
