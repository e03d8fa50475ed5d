package selection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"newsdesk/internal/ai"
	"newsdesk/internal/model"
)

// Selector reduces a category's candidates to the best MaxCount articles with
// one LLM call.
type Selector struct {
	LLM            ai.LLM
	MaxCount       int               // default 5
	PrefilterLimit int               // default 15
	Rules          map[string]string // category => relevance rule
}

func (s *Selector) maxCount() int {
	if s.MaxCount <= 0 {
		return 5
	}
	return s.MaxCount
}

func (s *Selector) prefilterLimit() int {
	if s.PrefilterLimit <= 0 {
		return 15
	}
	return s.PrefilterLimit
}

// Select never fails: a call or parse error falls back to freshness order and
// marks the result Degraded.
func (s *Selector) Select(ctx context.Context, category string, candidates []model.Article) model.SelectionResult {
	res := model.SelectionResult{Category: category, Selected: []model.Article{}}
	if len(candidates) == 0 {
		res.Records = []model.SelectionRecord{}
		return res
	}

	pool := PreFilter(candidates, s.prefilterLimit())
	chosen, err := s.rank(ctx, category, candidates, pool)
	if err != nil {
		slog.Warn("selector: ranking failed, using freshness order", "category", category, "err", err)
		res.Degraded = true
		chosen = FallbackByFreshness(candidates, s.maxCount())
	}

	type pick struct {
		rank int
		conf float64
	}
	picked := make(map[int]pick, len(chosen))
	for i, c := range chosen {
		a := candidates[c.Index]
		a.ConfidenceScore = c.Confidence
		res.Selected = append(res.Selected, a)
		picked[c.Index] = pick{rank: i + 1, conf: c.Confidence}
	}
	res.Records = make([]model.SelectionRecord, len(candidates))
	for i, a := range candidates {
		rec := model.SelectionRecord{Source: a.Source, Category: a.Category, Title: a.Title, Link: a.Link}
		if p, ok := picked[i]; ok {
			rec.Selected = true
			rec.Rank = p.rank
			rec.Confidence = p.conf
		}
		res.Records[i] = rec
	}
	slog.Info("selector: category ranked", "category", category, "candidates", len(candidates),
		"pool", len(pool), "selected", len(res.Selected), "degraded", res.Degraded)
	return res
}

// rank returns entries whose Index refers to candidates.
func (s *Selector) rank(ctx context.Context, category string, candidates []model.Article, pool []int) ([]Ranked, error) {
	if s.LLM == nil {
		return nil, fmt.Errorf("no LLM configured")
	}
	out, err := s.LLM.Generate(ctx, ai.Prompt{
		System:      systemPrompt(s.maxCount()),
		User:        userPrompt(category, s.Rules[category], candidates, pool),
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, err
	}
	r, err := ParseRanking(out, len(pool))
	if err != nil {
		return nil, err
	}
	slog.Debug("selector: parsed ranking", "category", category, "shape", r.Shape, "entries", len(r.Entries))
	entries := r.Entries
	if len(entries) > s.maxCount() {
		entries = entries[:s.maxCount()]
	}
	// map prompt numbering back to candidate positions
	chosen := make([]Ranked, len(entries))
	for i, e := range entries {
		chosen[i] = Ranked{Index: pool[e.Index], Confidence: e.Confidence}
	}
	return chosen, nil
}

// PreFilter returns the candidate positions kept for the prompt: all of them
// when there are at most limit, otherwise the limit freshest, in original
// order. It only bounds the prompt size.
func PreFilter(candidates []model.Article, limit int) []int {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	if limit <= 0 || len(candidates) <= limit {
		return idx
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return candidates[idx[a]].FreshnessScore > candidates[idx[b]].FreshnessScore
	})
	idx = idx[:limit]
	sort.Ints(idx)
	return idx
}

// FallbackByFreshness picks the n freshest candidates, ties in original order.
func FallbackByFreshness(candidates []model.Article, n int) []Ranked {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return candidates[idx[a]].FreshnessScore > candidates[idx[b]].FreshnessScore
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	out := make([]Ranked, len(idx))
	for i, j := range idx {
		out[i] = Ranked{Index: j}
	}
	return out
}

func systemPrompt(n int) string {
	return fmt.Sprintf(`You are the editor of a financial news briefing.
Pick at most %d articles from the numbered list and order them best first.
Apply these priorities in order:
1. Relevance: follow the category rule, drop anything outside it.
2. Quality: prefer specific, data-rich, actionable reporting over vague or promotional pieces.
3. Freshness: use the fresh tag only to break ties.
4. Deduplication: when several items cover the same story keep only the best one.
It is fine to return fewer items, or none, when candidates are irrelevant.
Respond with JSON only: {"articles": [{"index": <number from the list>, "confidence": <0.0-1.0>}]}`, n)
}

func userPrompt(category, rule string, candidates []model.Article, pool []int) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Category: %s\n", category)
	if strings.TrimSpace(rule) != "" {
		fmt.Fprintf(b, "Rule: %s\n", rule)
	}
	b.WriteString("Candidates:\n")
	for n, i := range pool {
		a := candidates[i]
		fmt.Fprintf(b, "[%d] (fresh %.2f) %s | %s\n", n, a.FreshnessScore, a.Source, a.Text)
	}
	return b.String()
}
