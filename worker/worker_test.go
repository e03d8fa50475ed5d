package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"newsdesk/internal/newsletter"
	"newsdesk/internal/pipeline"
)

type countingRefresher struct {
	calls int32
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context) (pipeline.Result, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return pipeline.Result{}, r.err
	}
	return pipeline.Result{Newsletter: newsletter.New("x", []string{"us"}, time.Now())}, nil
}

func TestSchedulerCronExpression(t *testing.T) {
	s := &Scheduler{Hours: []int{18, 6, 12, 6}}
	if got := s.Spec(); got != "0 6,12,18 * * *" {
		t.Fatalf("spec = %q", got)
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	r := &countingRefresher{}
	s := &Scheduler{Refresher: r, Hours: []int{6}}
	s.runOnce(context.Background())
	r.err = errors.New("boom")
	s.runOnce(context.Background())
	if atomic.LoadInt32(&r.calls) != 2 {
		t.Fatalf("expected 2 refreshes, got %d", r.calls)
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	s := &Scheduler{Refresher: &countingRefresher{}, Hours: []int{3}, Location: time.UTC}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRejectsBadHour(t *testing.T) {
	s := &Scheduler{Refresher: &countingRefresher{}, Hours: []int{25}}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected an invalid cron expression error")
	}
}

type countingCleaner struct{ runs int32 }

func (c *countingCleaner) Cleanup() (int, error) {
	atomic.AddInt32(&c.runs, 1)
	return 1, nil
}

func TestJanitorRunsImmediatelyAndOnInterval(t *testing.T) {
	c := &countingCleaner{}
	j := &CacheJanitor{Cleaners: map[string]Cleaner{"newsletter": c}, Interval: 10 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := j.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&c.runs); n < 2 {
		t.Fatalf("expected several cleanups, got %d", n)
	}
}

type failingWorker struct{ err error }

func (f failingWorker) Start(ctx context.Context) error { return f.err }

type blockingWorker struct{ stopped int32 }

func (b *blockingWorker) Start(ctx context.Context) error {
	<-ctx.Done()
	atomic.StoreInt32(&b.stopped, 1)
	return nil
}

func TestManagerStopsAllOnWorkerError(t *testing.T) {
	b := &blockingWorker{}
	boom := errors.New("listen failed")
	m := NewManager(b, failingWorker{err: boom})
	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected worker error, got %v", err)
	}
	if atomic.LoadInt32(&b.stopped) != 1 {
		t.Fatal("other workers should be stopped")
	}
}

func TestHTTPServerServesAndShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	w := &HTTPServer{
		Listener: ln,
		Handler: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			io.WriteString(rw, "pong")
		}),
		ShutdownTimeout: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("body = %q", body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
