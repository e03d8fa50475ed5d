package model

import "time"

// Article is a single feed entry carried through one fetch cycle.
type Article struct {
	Source          string    `json:"source"`
	Category        string    `json:"category"`
	Text            string    `json:"text"`
	Title           string    `json:"title"`
	Link            string    `json:"link"`
	Published       string    `json:"published"` // RFC3339
	PublishedAt     time.Time `json:"-"`
	FreshnessScore  float64   `json:"freshness_score"`
	ConfidenceScore float64   `json:"confidence_score,omitempty"`
}

// Source status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// SourceStats reports how one feed behaved during a fetch cycle.
type SourceStats struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	ArticleCount int    `json:"article_count"`
	Status       string `json:"status"`
	URL          string `json:"url"`
	Error        string `json:"error,omitempty"`
}

// Active reports whether the feed returned a usable response.
func (s SourceStats) Active() bool { return s.Status == StatusActive }

// SelectionRecord audits the decision taken for one candidate.
type SelectionRecord struct {
	Source     string  `json:"source"`
	Category   string  `json:"category"`
	Title      string  `json:"title"`
	Link       string  `json:"link"`
	Selected   bool    `json:"selected"`
	Confidence float64 `json:"confidence,omitempty"`
	Rank       int     `json:"rank,omitempty"` // 1-based; 0 when rejected
}

// SelectionResult pairs the chosen articles with a record for every candidate.
type SelectionResult struct {
	Category string            `json:"category"`
	Selected []Article         `json:"selected"`
	Records  []SelectionRecord `json:"records"`
	Degraded bool              `json:"degraded,omitempty"` // freshness fallback was used
}
