package newsletter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"newsdesk/internal/model"
)

var (
	ErrNoCategories      = errors.New("newsletter: no categories requested")
	ErrUnknownCategory   = errors.New("newsletter: unknown category")
	ErrIncompletePayload = errors.New("newsletter: incomplete payload")
)

// Sentiment is a per-category market mood, Score in [-1, 1].
type Sentiment struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// ArticleMeta describes one selected article.
type ArticleMeta struct {
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	Link       string  `json:"link"`
	Published  string  `json:"published"`
	Freshness  float64 `json:"freshness"`
	Confidence float64 `json:"confidence"`
}

// Newsletter is the payload served to clients and stored in the cache. Every
// map is keyed by category.
type Newsletter struct {
	ID                   string                         `json:"id"`
	Categories           []string                       `json:"categories"`
	GeneratedAt          time.Time                      `json:"generated_at"`
	Summaries            map[string]string              `json:"summaries"`
	Sentiment            map[string]Sentiment           `json:"sentiment"`
	InputCounts          map[string]int                 `json:"input_counts"`
	SourceStats          map[string][]model.SourceStats `json:"source_stats"`
	SourcesMetadata      map[string][]ArticleMeta       `json:"sources_metadata"`
	RawNews              map[string][]string            `json:"raw_news"`
	Degraded             []string                       `json:"degraded_categories,omitempty"`
	FilteredFromSuperset bool                           `json:"filtered_from_superset,omitempty"`
}

// New returns an empty payload for cats with every map allocated.
func New(id string, cats []string, at time.Time) *Newsletter {
	return &Newsletter{
		ID:              id,
		Categories:      append([]string(nil), cats...),
		GeneratedAt:     at,
		Summaries:       map[string]string{},
		Sentiment:       map[string]Sentiment{},
		InputCounts:     map[string]int{},
		SourceStats:     map[string][]model.SourceStats{},
		SourcesMetadata: map[string][]ArticleMeta{},
		RawNews:         map[string][]string{},
	}
}

// SetSelection records the chosen articles of one category. RawNews and
// SourcesMetadata always have the same length.
func (n *Newsletter) SetSelection(category string, selected []model.Article) {
	metas := make([]ArticleMeta, 0, len(selected))
	raw := make([]string, 0, len(selected))
	for _, a := range selected {
		metas = append(metas, ArticleMeta{
			Source:     a.Source,
			Title:      a.Title,
			Link:       a.Link,
			Published:  a.Published,
			Freshness:  a.FreshnessScore,
			Confidence: a.ConfidenceScore,
		})
		raw = append(raw, a.Text)
	}
	n.SourcesMetadata[category] = metas
	n.RawNews[category] = raw
}

// Validate reports payloads missing required fields.
func (n *Newsletter) Validate() error {
	if n == nil {
		return ErrIncompletePayload
	}
	if len(n.Categories) == 0 || n.GeneratedAt.IsZero() || n.SourcesMetadata == nil {
		return ErrIncompletePayload
	}
	for _, c := range n.Categories {
		if _, ok := n.SourcesMetadata[c]; !ok {
			return fmt.Errorf("%w: sources_metadata missing %q", ErrIncompletePayload, c)
		}
		if len(n.RawNews[c]) != len(n.SourcesMetadata[c]) {
			return fmt.Errorf("%w: raw_news and sources_metadata differ for %q", ErrIncompletePayload, c)
		}
	}
	return nil
}

// Covers reports whether n holds every category in cats.
func (n *Newsletter) Covers(cats []string) bool {
	have := make(map[string]bool, len(n.Categories))
	for _, c := range n.Categories {
		have[c] = true
	}
	for _, c := range cats {
		if !have[c] {
			return false
		}
	}
	return true
}

// Filter returns a copy holding only cats and marks it as derived from a
// superset. Fields for other categories never leak into the copy.
func (n *Newsletter) Filter(cats []string) *Newsletter {
	keep := make(map[string]bool, len(cats))
	for _, c := range cats {
		keep[c] = true
	}
	out := New(n.ID, nil, n.GeneratedAt)
	for _, c := range n.Categories {
		if keep[c] {
			out.Categories = append(out.Categories, c)
		}
	}
	for c, v := range n.Summaries {
		if keep[c] {
			out.Summaries[c] = v
		}
	}
	for c, v := range n.Sentiment {
		if keep[c] {
			out.Sentiment[c] = v
		}
	}
	for c, v := range n.InputCounts {
		if keep[c] {
			out.InputCounts[c] = v
		}
	}
	for c, v := range n.SourceStats {
		if keep[c] {
			out.SourceStats[c] = append([]model.SourceStats(nil), v...)
		}
	}
	for c, v := range n.SourcesMetadata {
		if keep[c] {
			out.SourcesMetadata[c] = append([]ArticleMeta{}, v...)
		}
	}
	for c, v := range n.RawNews {
		if keep[c] {
			out.RawNews[c] = append([]string{}, v...)
		}
	}
	for _, c := range n.Degraded {
		if keep[c] {
			out.Degraded = append(out.Degraded, c)
		}
	}
	out.FilteredFromSuperset = true
	return out
}

// NormalizeCategories lower-cases, dedupes and sorts raw, rejecting names not
// in known. Comma separated entries are split.
func NormalizeCategories(raw []string, known []string) ([]string, error) {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[strings.ToLower(strings.TrimSpace(k))] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			c := strings.ToLower(strings.TrimSpace(part))
			if c == "" || seen[c] {
				continue
			}
			if !allowed[c] {
				return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCategories
	}
	sort.Strings(out)
	return out, nil
}

// CategoryKey is the sorted set joined by underscores, e.g. "ai_us".
func CategoryKey(cats []string) string {
	s := append([]string(nil), cats...)
	sort.Strings(s)
	return strings.Join(s, "_")
}

// ParseCategoryKey reverses CategoryKey.
func ParseCategoryKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "_")
}
