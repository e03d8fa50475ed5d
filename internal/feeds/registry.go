package feeds

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Feed is one configured RSS source.
type Feed struct {
	URL      string `yaml:"url" json:"url"`
	Source   string `yaml:"source" json:"source"`
	Category string `yaml:"category" json:"category"`
}

// Registry is the ordered list of configured feeds.
type Registry struct {
	feeds []Feed
}

type registryFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// builtin is used when no registry file exists.
var builtin = []Feed{
	{URL: "https://www.cnbc.com/id/100003114/device/rss/rss.html", Source: "CNBC", Category: "us"},
	{URL: "https://feeds.marketwatch.com/marketwatch/topstories/", Source: "MarketWatch", Category: "us"},
	{URL: "https://finance.yahoo.com/news/rssindex", Source: "Yahoo Finance", Category: "us"},
	{URL: "https://www.globes.co.il/webservice/rss/rssfeeder.asmx/FeederNode?iID=1725", Source: "Globes", Category: "israel"},
	{URL: "https://www.timesofisrael.com/business/feed/", Source: "Times of Israel", Category: "israel"},
	{URL: "https://www.calcalistech.com/ctechnews/rss", Source: "CTech", Category: "israel"},
	{URL: "https://techcrunch.com/category/artificial-intelligence/feed/", Source: "TechCrunch", Category: "ai"},
	{URL: "https://venturebeat.com/category/ai/feed/", Source: "VentureBeat", Category: "ai"},
	{URL: "https://www.coindesk.com/arc/outboundfeeds/rss/", Source: "CoinDesk", Category: "crypto"},
	{URL: "https://cointelegraph.com/rss", Source: "Cointelegraph", Category: "crypto"},
}

// Builtin returns the default registry.
func Builtin() *Registry {
	return New(append([]Feed(nil), builtin...))
}

// New builds a registry, normalizing categories to lower case.
func New(fs []Feed) *Registry {
	out := make([]Feed, 0, len(fs))
	for _, f := range fs {
		f.Category = strings.ToLower(strings.TrimSpace(f.Category))
		f.Source = strings.TrimSpace(f.Source)
		f.URL = strings.TrimSpace(f.URL)
		out = append(out, f)
	}
	return &Registry{feeds: out}
}

// Load reads a YAML registry. A missing file yields the builtin registry.
func Load(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("feeds: registry file not found, using builtin", "path", path)
		return Builtin(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feed registry: %w", err)
	}
	var rf registryFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("parse feed registry %s: %w", path, err)
	}
	r := New(rf.Feeds)
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("invalid feed registry %s: %w", path, err)
	}
	return r, nil
}

func (r *Registry) validate() error {
	seen := map[string]bool{}
	for i, f := range r.feeds {
		if f.URL == "" || f.Source == "" || f.Category == "" {
			return fmt.Errorf("feed #%d: url, source and category are required", i+1)
		}
		key := f.Category + "|" + f.URL
		if seen[key] {
			return fmt.Errorf("feed #%d: duplicate url %s in category %s", i+1, f.URL, f.Category)
		}
		seen[key] = true
	}
	return nil
}

// All returns every feed in registry order.
func (r *Registry) All() []Feed {
	return append([]Feed(nil), r.feeds...)
}

// ForCategories returns the feeds whose category is in cats, in registry order.
func (r *Registry) ForCategories(cats []string) []Feed {
	want := make(map[string]bool, len(cats))
	for _, c := range cats {
		want[strings.ToLower(c)] = true
	}
	var out []Feed
	for _, f := range r.feeds {
		if want[f.Category] {
			out = append(out, f)
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (r *Registry) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range r.feeds {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}
