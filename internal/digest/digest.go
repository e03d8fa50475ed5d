package digest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"newsdesk/internal/ai"
	"newsdesk/internal/model"
	"newsdesk/internal/newsletter"
)

// Digest is the generated text for one category.
type Digest struct {
	Summary   string
	Sentiment newsletter.Sentiment
	Degraded  bool
}

// Digester writes a short market summary and sentiment per category.
type Digester struct {
	LLM ai.LLM
}

type response struct {
	Summary   string  `json:"summary"`
	Sentiment float64 `json:"sentiment"`
	Label     string  `json:"label"`
}

// Summarize makes one LLM call. Failures yield a headline-based summary and a
// neutral sentiment.
func (d *Digester) Summarize(ctx context.Context, category string, articles []model.Article) Digest {
	if len(articles) == 0 {
		return Digest{Summary: fmt.Sprintf("No notable %s stories in this window.", strings.ToUpper(category)), Sentiment: Neutral()}
	}
	if d.LLM == nil {
		return fallback(articles)
	}
	b := &strings.Builder{}
	for i, a := range articles {
		fmt.Fprintf(b, "%d. %s (%s)\n", i+1, a.Text, a.Source)
	}
	out, err := d.LLM.Generate(ctx, ai.Prompt{
		System: `You are a markets analyst. Summarize the stories in 2-4 sentences, concrete and factual, no links.
Rate the overall market sentiment from -1 (very bearish) to 1 (very bullish).
Respond with JSON only: {"summary": "...", "sentiment": 0.0, "label": "bearish|neutral|bullish"}`,
		User:        fmt.Sprintf("Category: %s\nStories:\n%s", category, b.String()),
		Temperature: 0.4,
		MaxTokens:   500,
	})
	if err != nil {
		slog.Warn("digest: generation failed", "category", category, "err", err)
		return fallback(articles)
	}
	var r response
	if err := ai.DecodeJSON(out, &r); err != nil || strings.TrimSpace(r.Summary) == "" {
		slog.Warn("digest: unusable response", "category", category, "err", err)
		return fallback(articles)
	}
	score := clamp(r.Sentiment)
	label := strings.ToLower(strings.TrimSpace(r.Label))
	if label == "" {
		label = Label(score)
	}
	return Digest{Summary: strings.TrimSpace(r.Summary), Sentiment: newsletter.Sentiment{Score: score, Label: label}}
}

// Neutral is the sentiment used when none could be derived.
func Neutral() newsletter.Sentiment {
	return newsletter.Sentiment{Score: 0, Label: "neutral"}
}

// Label maps a score onto bearish, neutral or bullish.
func Label(score float64) string {
	switch {
	case score <= -0.2:
		return "bearish"
	case score >= 0.2:
		return "bullish"
	}
	return "neutral"
}

func fallback(articles []model.Article) Digest {
	titles := make([]string, 0, 3)
	for _, a := range articles {
		if len(titles) == 3 {
			break
		}
		t := a.Title
		if t == "" {
			t = a.Text
		}
		titles = append(titles, t)
	}
	return Digest{Summary: "Top stories: " + strings.Join(titles, "; ") + ".", Sentiment: Neutral(), Degraded: true}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
