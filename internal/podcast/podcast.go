package podcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/ai"
	"newsdesk/internal/cache"
	"newsdesk/internal/newsletter"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrJobNotFound = errors.New("podcast: job not found")
	ErrJobFinished = errors.New("podcast: job already finished")
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one podcast generation.
type Job struct {
	ID         string    `json:"id"`
	Categories []string  `json:"categories"`
	Status     Status    `json:"status"`
	Cached     bool      `json:"cached,omitempty"`
	LinesDone  int       `json:"lines_done"`
	LinesTotal int       `json:"lines_total"`
	AudioPath  string    `json:"-"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Line is one spoken turn of the script.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// NewsletterFunc supplies the newsletter a script is written from.
type NewsletterFunc func(ctx context.Context, cats []string) (*newsletter.Newsletter, error)

// JobStore mirrors job snapshots outside the process. Optional.
type JobStore interface {
	PutJob(ctx context.Context, id string, b []byte, ttl time.Duration) error
	GetJob(ctx context.Context, id string) ([]byte, error)
}

// Service runs podcast jobs in the background. Cancellation is cooperative:
// a cancelled job stops before its next TTS batch, never mid-line, and a job
// cancelled during its last batch writes no audio.
type Service struct {
	llm         ai.LLM
	tts         ai.TTS
	audio       *cache.AudioCache
	newsletters NewsletterFunc
	known       []string
	voices      []string
	batchSize   int
	maxLines    int
	store       JobStore
	retention   time.Duration
	now         func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*Job
	cancelled map[string]bool
	inflight  map[string]string // category key => job id
	hits      map[string]string // category key => cached job id
}

type Config struct {
	LLM         ai.LLM
	TTS         ai.TTS
	Audio       *cache.AudioCache
	Newsletters NewsletterFunc
	Known       []string
	Voices      []string // host first
	BatchSize   int
	MaxLines    int
	Store       JobStore
	Retention   time.Duration // how long finished jobs stay queryable, default 24h
}

func NewService(cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = 24
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = []string{"alloy", "echo"}
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		llm:         cfg.LLM,
		tts:         cfg.TTS,
		audio:       cfg.Audio,
		newsletters: cfg.Newsletters,
		known:       cfg.Known,
		voices:      cfg.Voices,
		batchSize:   cfg.BatchSize,
		maxLines:    cfg.MaxLines,
		store:       cfg.Store,
		retention:   cfg.Retention,
		now:         time.Now,
		base:        ctx,
		cancel:      cancel,
		jobs:        map[string]*Job{},
		cancelled:   map[string]bool{},
		inflight:    map[string]string{},
		hits:        map[string]string{},
	}
}

// Lookup returns cached audio for exactly the requested categories.
func (s *Service) Lookup(raw []string) (string, bool, error) {
	cats, err := newsletter.NormalizeCategories(raw, s.known)
	if err != nil {
		return "", false, err
	}
	p, ok := s.audio.Lookup(cats)
	return p, ok, nil
}

// Start returns a completed job on an exact audio cache hit, the running job
// for the same category set if any, or a new background job.
func (s *Service) Start(ctx context.Context, raw []string) (Job, error) {
	cats, err := newsletter.NormalizeCategories(raw, s.known)
	if err != nil {
		return Job{}, err
	}
	now := s.now().UTC()
	key := newsletter.CategoryKey(cats)
	if p, ok := s.audio.Lookup(cats); ok {
		// repeated hits on the same file share one job
		s.mu.Lock()
		if j, ok := s.jobs[s.hits[key]]; ok && j.AudioPath == p {
			snap := *j
			s.mu.Unlock()
			return snap, nil
		}
		j := &Job{ID: uuid.NewString(), Categories: cats, Status: StatusCompleted, Cached: true, AudioPath: p, CreatedAt: now, UpdatedAt: now}
		s.jobs[j.ID] = j
		s.hits[key] = j.ID
		s.mu.Unlock()
		s.persist(ctx, *j)
		return *j, nil
	}

	s.mu.Lock()
	if id, ok := s.inflight[key]; ok {
		if j, ok := s.jobs[id]; ok && !j.Status.Terminal() {
			snap := *j
			s.mu.Unlock()
			return snap, nil
		}
	}
	j := &Job{ID: uuid.NewString(), Categories: cats, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	s.jobs[j.ID] = j
	s.inflight[key] = j.ID
	snap := *j
	s.mu.Unlock()
	s.persist(ctx, snap)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(j.ID, cats)
	}()
	return snap, nil
}

// Status returns the latest snapshot of a job.
func (s *Service) Status(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		snap := *j
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()
	if s.store != nil {
		b, err := s.store.GetJob(ctx, id)
		if err == nil {
			var j Job
			if err := json.Unmarshal(b, &j); err == nil {
				return j, nil
			}
		}
	}
	return Job{}, ErrJobNotFound
}

// AudioPath returns the audio of a completed job.
func (s *Service) AudioPath(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusCompleted || j.AudioPath == "" {
		return "", false
	}
	return j.AudioPath, true
}

// Cancel flags a job. It stops before its next batch.
func (s *Service) Cancel(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if j.Status.Terminal() {
		snap := *j
		s.mu.Unlock()
		return snap, ErrJobFinished
	}
	s.cancelled[id] = true
	snap := *j
	s.mu.Unlock()
	slog.Info("podcast: cancellation requested", "job", id)
	return snap, nil
}

// Cleanup forgets finished jobs older than the retention window. Their
// mirrored snapshots expire from the job store on the same schedule.
func (s *Service) Cleanup() (int, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if !j.Status.Terminal() || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		key := newsletter.CategoryKey(j.Categories)
		if s.hits[key] == id {
			delete(s.hits, key)
		}
		removed++
	}
	return removed, nil
}

// Close cancels running jobs and waits for them to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every started job has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) isCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id]
}

func (s *Service) update(id string, fn func(j *Job)) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	fn(j)
	j.UpdatedAt = s.now().UTC()
	if j.Status.Terminal() {
		delete(s.cancelled, id)
		key := newsletter.CategoryKey(j.Categories)
		if s.inflight[key] == id {
			delete(s.inflight, key)
		}
	}
	snap := *j
	s.mu.Unlock()
	s.persist(s.base, snap)
}

func (s *Service) persist(ctx context.Context, j Job) {
	if s.store == nil {
		return
	}
	b, err := json.Marshal(j)
	if err != nil {
		return
	}
	if err := s.store.PutJob(context.WithoutCancel(ctx), j.ID, b, s.retention); err != nil {
		slog.Warn("podcast: persist job failed", "job", j.ID, "err", err)
	}
}

func (s *Service) fail(id string, err error) {
	slog.Error("podcast: job failed", "job", id, "err", err)
	s.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = err.Error()
	})
}

func (s *Service) markCancelled(id string) {
	slog.Info("podcast: job cancelled", "job", id)
	s.update(id, func(j *Job) { j.Status = StatusCancelled })
}

func (s *Service) run(id string, cats []string) {
	ctx := s.base
	s.update(id, func(j *Job) { j.Status = StatusRunning })

	n, err := s.newsletters(ctx, cats)
	if err != nil {
		s.fail(id, fmt.Errorf("load newsletter: %w", err))
		return
	}
	if s.isCancelled(id) {
		s.markCancelled(id)
		return
	}
	lines := s.script(ctx, n)
	s.update(id, func(j *Job) { j.LinesTotal = len(lines) })

	audio := make([][]byte, len(lines))
	for start := 0; start < len(lines); start += s.batchSize {
		if s.isCancelled(id) || ctx.Err() != nil {
			s.markCancelled(id)
			return
		}
		end := min(start+s.batchSize, len(lines))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				b, err := s.tts.Speak(gctx, s.voiceFor(lines[i].Speaker), lines[i].Text)
				if err != nil {
					return fmt.Errorf("line %d: %w", i+1, err)
				}
				audio[i] = b
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				s.markCancelled(id)
				return
			}
			s.fail(id, fmt.Errorf("synthesize: %w", err))
			return
		}
		s.update(id, func(j *Job) { j.LinesDone = end })
	}
	if s.isCancelled(id) || ctx.Err() != nil {
		s.markCancelled(id)
		return
	}

	path, err := s.audio.Save(cats, bytes.Join(audio, nil))
	if err != nil {
		s.fail(id, err)
		return
	}
	s.update(id, func(j *Job) {
		j.Status = StatusCompleted
		j.AudioPath = path
	})
	slog.Info("podcast: job completed", "job", id, "lines", len(lines), "path", path)
}

// voiceFor maps the host to the first voice and everyone else to the second.
func (s *Service) voiceFor(speaker string) string {
	sp := strings.ToLower(strings.TrimSpace(speaker))
	if sp == "host" || len(s.voices) == 1 {
		return s.voices[0]
	}
	return s.voices[1]
}

// script asks the LLM for a two-voice dialogue and falls back to reading
// the summaries.
func (s *Service) script(ctx context.Context, n *newsletter.Newsletter) []Line {
	if s.llm != nil {
		b := &strings.Builder{}
		for _, c := range n.Categories {
			fmt.Fprintf(b, "## %s\nSummary: %s\n", strings.ToUpper(c), n.Summaries[c])
			for _, a := range n.SourcesMetadata[c] {
				fmt.Fprintf(b, "- %s (%s)\n", a.Title, a.Source)
			}
		}
		out, err := s.llm.Generate(ctx, ai.Prompt{
			System: fmt.Sprintf(`Write a short news podcast dialogue between a host and an analyst.
Keep each line under 60 words and use at most %d lines. Mention only the stories provided.
Respond with JSON only: [{"speaker": "host|analyst", "text": "..."}]`, s.maxLines),
			User:        b.String(),
			Temperature: 0.7,
			MaxTokens:   2000,
		})
		if err == nil {
			if lines := parseScript(out, s.maxLines); len(lines) > 0 {
				return lines
			}
			slog.Warn("podcast: unusable script, reading summaries instead")
		} else {
			slog.Warn("podcast: script generation failed", "err", err)
		}
	}
	return fallbackScript(n, s.maxLines)
}

func parseScript(out string, maxLines int) []Line {
	var lines []Line
	if err := ai.DecodeJSON(out, &lines); err != nil {
		var wrapped struct {
			Lines  []Line `json:"lines"`
			Script []Line `json:"script"`
		}
		if err := ai.DecodeJSON(out, &wrapped); err != nil {
			return nil
		}
		lines = wrapped.Lines
		if len(lines) == 0 {
			lines = wrapped.Script
		}
	}
	clean := lines[:0]
	for _, l := range lines {
		l.Text = strings.TrimSpace(l.Text)
		if l.Text == "" {
			continue
		}
		clean = append(clean, l)
		if len(clean) == maxLines {
			break
		}
	}
	return clean
}

func fallbackScript(n *newsletter.Newsletter, maxLines int) []Line {
	up := make([]string, len(n.Categories))
	for i, c := range n.Categories {
		up[i] = strings.ToUpper(c)
	}
	lines := []Line{{Speaker: "host", Text: "Welcome to the briefing. Today we cover " + strings.Join(up, ", ") + "."}}
	for _, c := range n.Categories {
		if s := strings.TrimSpace(n.Summaries[c]); s != "" {
			lines = append(lines, Line{Speaker: "analyst", Text: strings.ToUpper(c) + ": " + s})
		}
	}
	lines = append(lines, Line{Speaker: "host", Text: "That's the briefing. Thanks for listening."})
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
