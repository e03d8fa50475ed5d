package podcast

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"newsdesk/internal/ai"
	"newsdesk/internal/ai/aitest"
	"newsdesk/internal/cache"
	"newsdesk/internal/newsletter"
)

const sixLines = `[
 {"speaker": "host", "text": "one"},
 {"speaker": "analyst", "text": "two"},
 {"speaker": "host", "text": "three"},
 {"speaker": "analyst", "text": "four"},
 {"speaker": "host", "text": "five"},
 {"speaker": "analyst", "text": "six"}
]`

func testNewsletter(ctx context.Context, cats []string) (*newsletter.Newsletter, error) {
	n := newsletter.New("n1", cats, time.Now().UTC())
	for _, c := range cats {
		n.Summaries[c] = c + " markets were calm"
	}
	return n, nil
}

func newService(t *testing.T, llm ai.LLM, tts ai.TTS, batch int) (*Service, *cache.AudioCache) {
	t.Helper()
	ac, err := cache.NewAudioCache(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := NewService(Config{
		LLM:         llm,
		TTS:         tts,
		Audio:       ac,
		Newsletters: testNewsletter,
		Known:       []string{"us", "ai", "crypto"},
		Voices:      []string{"alloy", "echo"},
		BatchSize:   batch,
		MaxLines:    10,
	})
	t.Cleanup(s.Close)
	return s, ac
}

func TestJobCompletesAndCachesExactSet(t *testing.T) {
	tts := &aitest.TTS{}
	s, _ := newService(t, aitest.Static(sixLines), tts, 4)
	ctx := context.Background()

	job, err := s.Start(ctx, []string{"us", "ai"})
	if err != nil {
		t.Fatal(err)
	}
	s.Wait()
	got, err := s.Status(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.LinesDone != 6 || got.LinesTotal != 6 {
		t.Fatalf("unexpected job: %+v", got)
	}
	p, ok := s.AudioPath(job.ID)
	if !ok {
		t.Fatal("completed job should expose audio")
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "onetwothreefourfivesix" {
		t.Fatalf("audio must keep script order, got %q", b)
	}

	hit, err := s.Start(ctx, []string{"ai", "us"})
	if err != nil || !hit.Cached || hit.Status != StatusCompleted {
		t.Fatalf("expected cached completed job, got %+v %v", hit, err)
	}
	if len(tts.Lines()) != 6 {
		t.Fatalf("cache hit must not synthesize again")
	}

	// a subset is never served from a superset's audio
	if _, ok, _ := s.Lookup([]string{"us"}); ok {
		t.Fatal("audio cache must be exact-match only")
	}
	sub, err := s.Start(ctx, []string{"us"})
	if err != nil || sub.Cached {
		t.Fatalf("subset should start a new job, got %+v %v", sub, err)
	}
	s.Wait()
}

func TestCancelStopsBetweenBatches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tts := &aitest.TTS{Hook: func(voice, text string) {
		once.Do(func() { close(started) })
		<-release
	}}
	s, ac := newService(t, aitest.Static(sixLines), tts, 2)
	ctx := context.Background()

	job, err := s.Start(ctx, []string{"crypto"})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := s.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	close(release)
	s.Wait()

	got, _ := s.Status(ctx, job.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if n := len(tts.Lines()); n != 2 {
		t.Fatalf("the in-flight batch finishes and nothing more, got %d lines", n)
	}
	if _, ok := ac.Lookup([]string{"crypto"}); ok {
		t.Fatal("cancelled job must not write audio")
	}
	if _, err := s.Cancel(ctx, job.ID); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
}

func TestConcurrentStartsShareJob(t *testing.T) {
	release := make(chan struct{})
	tts := &aitest.TTS{Hook: func(string, string) { <-release }}
	s, _ := newService(t, aitest.Static(sixLines), tts, 6)
	a, err := s.Start(context.Background(), []string{"us"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Start(context.Background(), []string{"us"})
	if err != nil {
		t.Fatal(err)
	}
	close(release)
	s.Wait()
	if a.ID != b.ID {
		t.Fatalf("same category set should share a running job: %s vs %s", a.ID, b.ID)
	}
}

func TestScriptFallbackAndVoices(t *testing.T) {
	var mu sync.Mutex
	voices := map[string]string{}
	tts := &aitest.TTS{Hook: func(voice, text string) {
		mu.Lock()
		voices[text] = voice
		mu.Unlock()
	}}
	s, _ := newService(t, aitest.Failing(errors.New("llm down")), tts, 3)
	job, err := s.Start(context.Background(), []string{"us", "ai"})
	if err != nil {
		t.Fatal(err)
	}
	s.Wait()
	got, _ := s.Status(context.Background(), job.ID)
	if got.Status != StatusCompleted || got.LinesTotal != 4 {
		t.Fatalf("fallback script should read intro, two summaries, outro: %+v", got)
	}
	for text, v := range voices {
		want := "echo"
		if strings.HasPrefix(text, "Welcome") || strings.HasPrefix(text, "That's") {
			want = "alloy"
		}
		if v != want {
			t.Errorf("%q spoken by %s, want %s", text, v, want)
		}
	}
}

func TestTTSFailureFailsJob(t *testing.T) {
	s, _ := newService(t, aitest.Static(sixLines), failingTTS{}, 2)
	job, err := s.Start(context.Background(), []string{"ai"})
	if err != nil {
		t.Fatal(err)
	}
	s.Wait()
	got, _ := s.Status(context.Background(), job.ID)
	if got.Status != StatusFailed || !strings.Contains(got.Error, "quota") {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestUnknownJobAndCategory(t *testing.T) {
	s, _ := newService(t, aitest.Static(sixLines), &aitest.TTS{}, 2)
	if _, err := s.Status(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Cancel(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Start(context.Background(), []string{"sports"}); !errors.Is(err, newsletter.ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestParseScript(t *testing.T) {
	lines := parseScript("```json\n{\"lines\": [{\"speaker\": \"host\", \"text\": \" hi \"}, {\"speaker\": \"analyst\", \"text\": \"\"}, {\"speaker\": \"analyst\", \"text\": \"yo\"}]}\n```", 10)
	if len(lines) != 2 || lines[0].Text != "hi" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
	if got := parseScript(sixLines, 3); len(got) != 3 {
		t.Fatalf("script should be capped, got %d", len(got))
	}
	if got := parseScript("no json here", 3); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

type failingTTS struct{}

func (failingTTS) Speak(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("tts quota exceeded")
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCacheHitsShareOneJob(t *testing.T) {
	s, ac := newService(t, aitest.Static(sixLines), &aitest.TTS{}, 4)
	ctx := context.Background()
	if _, err := ac.Save([]string{"us"}, []byte("audio")); err != nil {
		t.Fatal(err)
	}
	first, err := s.Start(ctx, []string{"us"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		j, err := s.Start(ctx, []string{"us"})
		if err != nil || j.ID != first.ID {
			t.Fatalf("cache hit %d: got %+v %v", i, j, err)
		}
	}
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("jobs retained = %d, want 1", n)
	}
}

func TestCleanupForgetsFinishedJobsAfterRetention(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	release := make(chan struct{})
	tts := &aitest.TTS{Hook: func(voice, text string) {
		if strings.Contains(text, "crypto markets") {
			<-release
		}
	}}
	s, ac := newService(t, nil, tts, 4)
	s.now = clk.Now
	ctx := context.Background()

	if _, err := ac.Save([]string{"us"}, []byte("audio")); err != nil {
		t.Fatal(err)
	}
	hit, err := s.Start(ctx, []string{"us"})
	if err != nil {
		t.Fatal(err)
	}
	running, err := s.Start(ctx, []string{"crypto"})
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(23 * time.Hour)
	if n, _ := s.Cleanup(); n != 0 {
		t.Fatalf("removed %d jobs inside the retention window", n)
	}
	clk.Advance(2 * time.Hour)
	if n, _ := s.Cleanup(); n != 1 {
		t.Fatalf("removed %d jobs, want only the finished one", n)
	}
	if _, err := s.Status(ctx, hit.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Status(ctx, running.ID); err != nil {
		t.Fatalf("running job must survive cleanup: %v", err)
	}

	close(release)
	s.Wait()
	// a new hit after eviction gets a fresh job
	again, err := s.Start(ctx, []string{"us"})
	if err != nil || again.ID == hit.ID {
		t.Fatalf("expected a new job, got %+v %v", again, err)
	}
}

func TestCancelDuringLastBatchWritesNoAudio(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tts := &aitest.TTS{Hook: func(voice, text string) {
		once.Do(func() { close(started) })
		<-release
	}}
	// one batch covers the whole script
	s, ac := newService(t, aitest.Static(sixLines), tts, 6)
	ctx := context.Background()

	job, err := s.Start(ctx, []string{"ai"})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := s.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	close(release)
	s.Wait()

	got, _ := s.Status(ctx, job.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if _, ok := ac.Lookup([]string{"ai"}); ok {
		t.Fatal("cancelled job must not write audio")
	}
}
