package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/contextpool/cleaner"
	"github.com/use-agent/contextpool/pool"
	"github.com/use-agent/contextpool/pool/pooltest"
)

func newTestQueue(t *testing.T) (*Queue, func()) {
	t.Helper()
	driver := pooltest.New()
	sup := pool.New(pool.DefaultConfig(), pool.BrowserConfig{Headless: true, CDPPort: 9222}, driver)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("sup.Start: %v", err)
	}

	q := New(sup.Coordinator(), 1, nil)
	q.Start()
	return q, func() {
		q.Stop()
		sup.Stop(context.Background())
	}
}

func TestSubmit_ReturnsQueuedJobImmediately(t *testing.T) {
	q, stop := newTestQueue(t)
	defer stop()

	job := q.Submit(pool.ScrapeRequest{URL: "https://example.com"}, "markdown", "readability", cleaner.CleanOptions{}, "", "")
	if job.ID == "" {
		t.Fatal("expected a non-empty job ID")
	}
	if job.Status != StatusQueued && job.Status != StatusRunning && job.Status != StatusCompleted {
		t.Fatalf("unexpected initial status: %s", job.Status)
	}
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	q, stop := newTestQueue(t)
	defer stop()

	job := q.Submit(pool.ScrapeRequest{URL: "https://example.com"}, "markdown", "readability", cleaner.CleanOptions{}, "", "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, ok := q.Get(job.ID)
		if !ok {
			t.Fatal("job vanished from the store")
		}
		if got.Status == StatusCompleted || got.Status == StatusFailed {
			if got.Status != StatusCompleted {
				t.Fatalf("expected completed, got %s: %s", got.Status, got.Error)
			}
			if got.Result == nil {
				t.Fatal("expected a result on a completed job")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
}

func TestGet_UnknownID(t *testing.T) {
	q, stop := newTestQueue(t)
	defer stop()

	if _, ok := q.Get("does-not-exist"); ok {
		t.Fatal("expected unknown job ID to miss")
	}
}

func TestPrune_RemovesOnlyOldTerminalJobs(t *testing.T) {
	q, stop := newTestQueue(t)
	defer stop()

	fresh := &Job{ID: "fresh", Status: StatusCompleted, FinishedAt: time.Now()}
	stale := &Job{ID: "stale", Status: StatusCompleted, FinishedAt: time.Now().Add(-2 * time.Hour)}
	running := &Job{ID: "running", Status: StatusRunning, FinishedAt: time.Time{}}

	q.mu.Lock()
	q.jobs[fresh.ID] = fresh
	q.jobs[stale.ID] = stale
	q.jobs[running.ID] = running
	q.mu.Unlock()

	n := q.Prune(time.Hour)
	if n != 1 {
		t.Fatalf("expected to prune exactly 1 job, pruned %d", n)
	}
	if _, ok := q.Get(stale.ID); ok {
		t.Fatal("stale job should have been pruned")
	}
	if _, ok := q.Get(fresh.ID); !ok {
		t.Fatal("fresh job should survive pruning")
	}
	if _, ok := q.Get(running.ID); !ok {
		t.Fatal("running job should survive pruning regardless of age")
	}
}
