package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"newsdesk/internal/ai/aitest"
	"newsdesk/internal/cache"
	"newsdesk/internal/model"
	"newsdesk/internal/newsletter"
	"newsdesk/internal/pipeline"
	"newsdesk/internal/podcast"
	"newsdesk/internal/storage"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

var known = []string{"us", "israel", "ai", "crypto"}

type fakeNewsletters struct {
	refreshes int32
}

func (f *fakeNewsletters) Newsletter(ctx context.Context, raw []string, opts pipeline.Options) (pipeline.Result, error) {
	cats, err := newsletter.NormalizeCategories(raw, known)
	if err != nil {
		return pipeline.Result{}, err
	}
	n := newsletter.New("nl-1", cats, time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	for _, c := range cats {
		n.Summaries[c] = c + " summary"
		n.Sentiment[c] = newsletter.Sentiment{Score: 0.3, Label: "bullish"}
		n.SetSelection(c, []model.Article{{Source: "Wire", Title: c + " headline", Link: "https://x/" + c, Text: "t"}})
	}
	src := cache.SourceMiss
	if len(cats) == 1 {
		src = cache.SourceSuperset
	}
	return pipeline.Result{Newsletter: n, Source: src}, nil
}

func (f *fakeNewsletters) Refresh(ctx context.Context) (pipeline.Result, error) {
	atomic.AddInt32(&f.refreshes, 1)
	return f.Newsletter(ctx, []string{"us", "ai"}, pipeline.Options{Force: true})
}

type fakeAnalytics struct{ err error }

func (f fakeAnalytics) SentimentHistory(ctx context.Context, category string, days int) ([]storage.SentimentPoint, error) {
	return []storage.SentimentPoint{{Category: category, Score: 0.1, Label: "neutral"}}, f.err
}

func (f fakeAnalytics) SelectionSummary(ctx context.Context, days int) ([]storage.SelectionStat, error) {
	return []storage.SelectionStat{{Source: "Wire", Category: "us", Candidates: 4, Selected: 2, SelectionRate: 0.5}}, f.err
}

func (f fakeAnalytics) Providers(ctx context.Context) ([]storage.FeedProvider, error) {
	return nil, f.err
}

func do(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("invalid body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestNewsletterEndpoint(t *testing.T) {
	h := NewServer(Config{Newsletters: &fakeNewsletters{}, Defaults: []string{"us", "ai"}}).Handler()

	w := do(h, http.MethodGet, "/api/newsletter?categories=US,ai", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("unexpected response %d %v", w.Code, w.Header())
	}
	var n newsletter.Newsletter
	if err := json.Unmarshal(decode(t, w).Data, &n); err != nil {
		t.Fatal(err)
	}
	if strings.Join(n.Categories, ",") != "ai,us" || n.Summaries["us"] != "us summary" {
		t.Fatalf("unexpected newsletter: %+v", n)
	}

	w = do(h, http.MethodGet, "/api/newsletter?categories=crypto", "", nil)
	if w.Header().Get("X-Cache") != "HIT" || w.Header().Get("X-Cache-Source") != "superset" {
		t.Fatalf("expected superset hit headers, got %v", w.Header())
	}

	w = do(h, http.MethodGet, "/api/newsletter?categories=sports", "", nil)
	if w.Code != http.StatusBadRequest || decode(t, w).Code != "invalid_categories" {
		t.Fatalf("unknown category should be a 400, got %d %s", w.Code, w.Body)
	}

	w = do(h, http.MethodGet, "/api/newsletter?format=markdown", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "us headline") {
		t.Fatalf("markdown render failed: %d %s", w.Code, w.Body)
	}
}

func TestAdminRefresh(t *testing.T) {
	nl := &fakeNewsletters{}
	h := NewServer(Config{Newsletters: nl, AdminSecret: "s3cret", RefreshCooldown: time.Minute}).Handler()

	if w := do(h, http.MethodPost, "/api/admin/refresh", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/admin/refresh", "", map[string]string{"X-Admin-Secret": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: got %d", w.Code)
	}
	w := do(h, http.MethodPost, "/api/admin/refresh", "", map[string]string{"X-Admin-Secret": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", w.Code, w.Body)
	}
	w = do(h, http.MethodPost, "/api/admin/refresh", "", map[string]string{"X-Admin-Secret": "s3cret"})
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second refresh should hit the cooldown: %d %v", w.Code, w.Header())
	}
	if atomic.LoadInt32(&nl.refreshes) != 1 {
		t.Fatalf("expected exactly one refresh, got %d", nl.refreshes)
	}

	disabled := NewServer(Config{Newsletters: nl}).Handler()
	if w := do(disabled, http.MethodPost, "/api/admin/refresh", "", map[string]string{"X-Admin-Secret": ""}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("no configured secret should be a 503, got %d", w.Code)
	}
}

func TestPodcastEndpoints(t *testing.T) {
	ac, err := cache.NewAudioCache(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	nl := &fakeNewsletters{}
	svc := podcast.NewService(podcast.Config{
		LLM:   aitest.Static(`[{"speaker": "host", "text": "hello"}, {"speaker": "analyst", "text": "world"}]`),
		TTS:   &aitest.TTS{},
		Audio: ac,
		Newsletters: func(ctx context.Context, cats []string) (*newsletter.Newsletter, error) {
			res, err := nl.Newsletter(ctx, cats, pipeline.Options{})
			return res.Newsletter, err
		},
		Known:     known,
		BatchSize: 2,
	})
	t.Cleanup(svc.Close)
	h := NewServer(Config{Newsletters: nl, Podcasts: svc}).Handler()

	if w := do(h, http.MethodGet, "/api/podcast/audio?categories=us", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("no audio yet: got %d", w.Code)
	}

	w := do(h, http.MethodPost, "/api/podcast", `{"categories": ["us"]}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	var job podcast.Job
	if err := json.Unmarshal(decode(t, w).Data, &job); err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	w = do(h, http.MethodGet, "/api/podcast/"+job.ID, "", nil)
	if err := json.Unmarshal(decode(t, w).Data, &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != podcast.StatusCompleted {
		t.Fatalf("job should be complete: %+v", job)
	}

	w = do(h, http.MethodGet, "/api/podcast/audio?categories=us", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "helloworld" {
		t.Fatalf("audio: %d %q", w.Code, w.Body.String())
	}
	if w := do(h, http.MethodGet, "/api/podcast/audio?categories=us,ai", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("audio must match the exact set, got %d", w.Code)
	}

	w = do(h, http.MethodPost, "/api/podcast?categories=us", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cached start should be a 200, got %d", w.Code)
	}

	if w := do(h, http.MethodDelete, "/api/podcast/"+job.ID, "", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancelling a finished job: got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/podcast/missing", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown job: got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/podcast", `{"categories": [`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: got %d", w.Code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	h := NewServer(Config{Newsletters: &fakeNewsletters{}}).Handler()
	for _, p := range []string{"/api/analytics/sentiment?category=us", "/api/analytics/selections", "/api/analytics/providers"} {
		if w := do(h, http.MethodGet, p, "", nil); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s without database: got %d", p, w.Code)
		}
	}

	h = NewServer(Config{Newsletters: &fakeNewsletters{}, Analytics: fakeAnalytics{}}).Handler()
	w := do(h, http.MethodGet, "/api/analytics/sentiment?category=US&days=3", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"category":"us"`) {
		t.Fatalf("sentiment: %d %s", w.Code, w.Body)
	}
	if w := do(h, http.MethodGet, "/api/analytics/sentiment", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("sentiment without category: got %d", w.Code)
	}
	w = do(h, http.MethodGet, "/api/analytics/selections", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"selectionRate":0.5`) {
		t.Fatalf("selections: %d %s", w.Code, w.Body)
	}

	h = NewServer(Config{Newsletters: &fakeNewsletters{}, Analytics: fakeAnalytics{err: errors.New("db gone")}}).Handler()
	w = do(h, http.MethodGet, "/api/analytics/providers", "", nil)
	if w.Code != http.StatusInternalServerError || decode(t, w).Code != "internal_error" {
		t.Fatalf("providers error: %d %s", w.Code, w.Body)
	}
}

func TestHealthAndCORS(t *testing.T) {
	h := NewServer(Config{Newsletters: &fakeNewsletters{}}).Handler()
	if w := do(h, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	w := do(h, http.MethodOptions, "/api/newsletter", "", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}
}
