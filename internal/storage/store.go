package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"newsdesk/internal/model"
	"newsdesk/internal/newsletter"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists newsletters and analytics in postgres.
type Store struct {
	DB *gorm.DB
}

// Open connects and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&NewsletterRecord{}, &ArticleRecord{}, &FeedProvider{}, &ArticleSelection{}, &SentimentPoint{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: db}, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveNewsletter stores the payload, its selected articles, the selection
// audit records and the sentiment points in one transaction.
func (s *Store) SaveNewsletter(ctx context.Context, n *newsletter.Newsletter, selections []model.SelectionResult) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode newsletter: %w", err)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &NewsletterRecord{
			ID:          n.ID,
			CategoryKey: newsletter.CategoryKey(n.Categories),
			GeneratedAt: n.GeneratedAt,
			Degraded:    len(n.Degraded) > 0,
			Payload:     datatypes.JSON(payload),
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert newsletter: %w", err)
		}
		for _, sel := range selections {
			for _, a := range sel.Selected {
				if a.Link == "" {
					continue
				}
				ar := &ArticleRecord{
					Link:             a.Link,
					Title:            truncateRunes(a.Title, 512),
					Source:           a.Source,
					Category:         a.Category,
					Text:             truncateRunes(a.Text, 1024),
					PublishedAt:      a.PublishedAt,
					Confidence:       a.ConfidenceScore,
					LastNewsletterID: n.ID,
				}
				// link is the idempotency key
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "link"}},
					DoUpdates: clause.AssignmentColumns([]string{"title", "text", "confidence", "last_newsletter_id", "updated_at"}),
				}).Create(ar).Error
				if err != nil {
					return fmt.Errorf("upsert article: %w", err)
				}
			}
			rows := make([]ArticleSelection, 0, len(sel.Records))
			for _, r := range sel.Records {
				rows = append(rows, ArticleSelection{
					NewsletterID: n.ID,
					Category:     r.Category,
					Source:       r.Source,
					Title:        truncateRunes(r.Title, 512),
					Link:         r.Link,
					Selected:     r.Selected,
					Confidence:   r.Confidence,
					Rank:         r.Rank,
					Degraded:     sel.Degraded,
				})
			}
			if len(rows) > 0 {
				if err := tx.CreateInBatches(rows, 100).Error; err != nil {
					return fmt.Errorf("insert selections: %w", err)
				}
			}
		}
		for _, c := range n.Categories {
			snt, ok := n.Sentiment[c]
			if !ok {
				continue
			}
			if err := tx.Create(&SentimentPoint{NewsletterID: n.ID, Category: c, Score: snt.Score, Label: snt.Label}).Error; err != nil {
				return fmt.Errorf("insert sentiment: %w", err)
			}
		}
		return nil
	})
}

// RecordSourceStats folds one fetch cycle into provider reliability.
func (s *Store) RecordSourceStats(ctx context.Context, stats []model.SourceStats) error {
	now := time.Now()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, st := range stats {
			p := &FeedProvider{}
			err := tx.Where(FeedProvider{URL: st.URL, Category: st.Category}).
				Attrs(FeedProvider{Name: st.Name}).
				FirstOrCreate(p).Error
			if err != nil {
				return fmt.Errorf("load provider %s: %w", st.URL, err)
			}
			ApplyStats(p, st, now)
			if err := tx.Save(p).Error; err != nil {
				return fmt.Errorf("save provider %s: %w", st.URL, err)
			}
		}
		return nil
	})
}

// ApplyStats updates counters and reliability from one observation.
func ApplyStats(p *FeedProvider, st model.SourceStats, at time.Time) {
	p.Name = st.Name
	p.FetchCount++
	if st.Active() {
		p.SuccessCount++
		p.ArticleCount += st.ArticleCount
		p.LastError = ""
	} else {
		p.LastError = truncateRunes(st.Error, 512)
	}
	p.LastStatus = st.Status
	p.LastFetchedAt = at
	p.Reliability = float64(p.SuccessCount) / float64(p.FetchCount)
}

// SentimentHistory returns a category's sentiment over the last days, oldest
// first.
func (s *Store) SentimentHistory(ctx context.Context, category string, days int) ([]SentimentPoint, error) {
	var out []SentimentPoint
	err := s.DB.WithContext(ctx).
		Where("category = ? AND created_at >= ?", category, Since(time.Now(), days)).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// SelectionStat summarizes ranking outcomes per source.
type SelectionStat struct {
	Source        string  `json:"source"`
	Category      string  `json:"category"`
	Candidates    int     `json:"candidates"`
	Selected      int     `json:"selected"`
	AvgConfidence float64 `json:"avgConfidence"`
	SelectionRate float64 `json:"selectionRate"`
}

// SelectionSummary aggregates selection records of the last days.
func (s *Store) SelectionSummary(ctx context.Context, days int) ([]SelectionStat, error) {
	const q = `
SELECT source, category,
       COUNT(*) AS candidates,
       SUM(CASE WHEN selected THEN 1 ELSE 0 END) AS selected,
       COALESCE(AVG(CASE WHEN selected THEN confidence END), 0) AS avg_confidence
FROM article_selections
WHERE created_at >= ?
GROUP BY source, category
ORDER BY selected DESC, source ASC`
	var rows []SelectionStat
	if err := s.DB.WithContext(ctx).Raw(q, Since(time.Now(), days)).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Candidates > 0 {
			rows[i].SelectionRate = float64(rows[i].Selected) / float64(rows[i].Candidates)
		}
	}
	return rows, nil
}

// Providers lists feeds by reliability, least reliable first.
func (s *Store) Providers(ctx context.Context) ([]FeedProvider, error) {
	var out []FeedProvider
	err := s.DB.WithContext(ctx).Order("reliability ASC, name ASC").Find(&out).Error
	return out, err
}

// Since returns the cutoff for a lookback of days, at least one.
func Since(now time.Time, days int) time.Time {
	if days <= 0 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	return now.AddDate(0, 0, -days)
}

func truncateRunes(s string, limit int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
