package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"newsdesk/internal/pipeline"

	"github.com/robfig/cron/v3"
)

// Refresher is satisfied by *pipeline.Pipeline.
type Refresher interface {
	Refresh(ctx context.Context) (pipeline.Result, error)
}

// Scheduler regenerates the default newsletter at fixed hours of the day.
type Scheduler struct {
	Refresher Refresher
	Hours     []int
	Location  *time.Location
	Timeout   time.Duration // per run, default 10m
}

// Spec is the cron expression for the configured hours, e.g. "0 6,12,18 * * *".
func (s *Scheduler) Spec() string {
	hs := append([]int(nil), s.Hours...)
	sort.Ints(hs)
	parts := make([]string, 0, len(hs))
	seen := map[int]bool{}
	for _, h := range hs {
		if seen[h] {
			continue
		}
		seen[h] = true
		parts = append(parts, strconv.Itoa(h))
	}
	return "0 " + strings.Join(parts, ",") + " * * *"
}

func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.Hours) == 0 {
		slog.Info("scheduler: no hours configured, idle")
		<-ctx.Done()
		return nil
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(s.Spec(), func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", s.Spec(), err)
	}
	c.Start()
	slog.Info("scheduler: started", "spec", s.Spec(), "tz", loc.String())

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := s.Refresher.Refresh(ctx)
	if err != nil {
		slog.Error("scheduler: refresh failed", "err", err)
		return
	}
	slog.Info("scheduler: refresh done", "id", res.Newsletter.ID,
		"categories", res.Newsletter.Categories, "took", time.Since(start).Round(time.Millisecond))
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	slog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	slog.Error("cron: "+msg, append(kv, "err", err)...)
}
