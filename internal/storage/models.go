package storage

import (
	"time"

	"gorm.io/datatypes"
)

// NewsletterRecord is one generated newsletter; Payload holds the served JSON.
type NewsletterRecord struct {
	ID          string         `gorm:"primaryKey;size:40" json:"id"`
	CategoryKey string         `gorm:"size:128;index" json:"categoryKey"`
	GeneratedAt time.Time      `gorm:"index" json:"generatedAt"`
	Degraded    bool           `json:"degraded"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	CreatedAt time.Time `json:"createdAt"`
}

func (NewsletterRecord) TableName() string { return "newsletters" }

// ArticleRecord is a selected article, unique by link.
type ArticleRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Link             string    `gorm:"size:1024;uniqueIndex" json:"link"`
	Title            string    `gorm:"size:512" json:"title"`
	Source           string    `gorm:"size:128;index" json:"source"`
	Category         string    `gorm:"size:32;index" json:"category"`
	Text             string    `gorm:"size:1024" json:"text"`
	PublishedAt      time.Time `gorm:"index" json:"publishedAt"`
	Confidence       float64   `json:"confidence"`
	LastNewsletterID string    `gorm:"size:40" json:"lastNewsletterId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ArticleRecord) TableName() string { return "articles" }

// FeedProvider accumulates fetch reliability per feed.
type FeedProvider struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	URL           string    `gorm:"size:1024;uniqueIndex:idx_provider_url_category" json:"url"`
	Category      string    `gorm:"size:32;uniqueIndex:idx_provider_url_category" json:"category"`
	Name          string    `gorm:"size:128" json:"name"`
	FetchCount    int       `json:"fetchCount"`
	SuccessCount  int       `json:"successCount"`
	ArticleCount  int       `json:"articleCount"`
	Reliability   float64   `gorm:"index" json:"reliability"`
	LastStatus    string    `gorm:"size:16" json:"lastStatus"`
	LastError     string    `gorm:"size:512" json:"lastError"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ArticleSelection is the audit trail of one ranking decision.
type ArticleSelection struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	NewsletterID string  `gorm:"size:40;index" json:"newsletterId"`
	Category     string  `gorm:"size:32;index" json:"category"`
	Source       string  `gorm:"size:128;index" json:"source"`
	Title        string  `gorm:"size:512" json:"title"`
	Link         string  `gorm:"size:1024" json:"link"`
	Selected     bool    `gorm:"index" json:"selected"`
	Confidence   float64 `json:"confidence"`
	Rank         int     `json:"rank"`
	Degraded     bool    `json:"degraded"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// SentimentPoint is one category's sentiment for a newsletter.
type SentimentPoint struct {
	ID           uint    `gorm:"primaryKey" json:"-"`
	NewsletterID string  `gorm:"size:40;index" json:"newsletterId"`
	Category     string  `gorm:"size:32;index" json:"category"`
	Score        float64 `json:"score"`
	Label        string  `gorm:"size:16" json:"label"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}
