package digest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"newsdesk/internal/ai/aitest"
	"newsdesk/internal/model"
)

var arts = []model.Article{
	{Source: "A", Title: "Stocks rally", Text: "Stocks rally: indices up"},
	{Source: "B", Title: "Oil slips", Text: "Oil slips: supply"},
}

func TestSummarize(t *testing.T) {
	d := &Digester{LLM: aitest.Static("```json\n{\"summary\": \"Equities rose.\", \"sentiment\": 1.7}\n```")}
	got := d.Summarize(context.Background(), "us", arts)
	if got.Summary != "Equities rose." || got.Degraded {
		t.Fatalf("unexpected digest: %+v", got)
	}
	if got.Sentiment.Score != 1 || got.Sentiment.Label != "bullish" {
		t.Fatalf("sentiment not clamped/labelled: %+v", got.Sentiment)
	}
}

func TestSummarizeFallback(t *testing.T) {
	for name, d := range map[string]*Digester{
		"error":   {LLM: aitest.Failing(errors.New("down"))},
		"garbage": {LLM: aitest.Static("sorry")},
		"no llm":  {},
	} {
		t.Run(name, func(t *testing.T) {
			got := d.Summarize(context.Background(), "us", arts)
			if !got.Degraded || !strings.Contains(got.Summary, "Stocks rally; Oil slips") {
				t.Fatalf("unexpected fallback: %+v", got)
			}
			if got.Sentiment.Label != "neutral" {
				t.Fatalf("fallback sentiment should be neutral")
			}
		})
	}
}

func TestSummarizeEmptyMakesNoCall(t *testing.T) {
	llm := aitest.Static(`{}`)
	got := (&Digester{LLM: llm}).Summarize(context.Background(), "ai", nil)
	if llm.Calls() != 0 || !strings.Contains(got.Summary, "AI") {
		t.Fatalf("unexpected: %+v calls=%d", got, llm.Calls())
	}
}
