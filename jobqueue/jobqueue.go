// Package jobqueue is the in-process stand-in for the original's
// AMQP-backed async scrape path: submit a job, get an ID back immediately,
// poll (or get a webhook) for the result. It sits strictly outside
// pool/ — every job is just a call to pool.Coordinator.Scrape.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/contextpool/cleaner"
	"github.com/use-agent/contextpool/metrics"
	"github.com/use-agent/contextpool/pool"
	"github.com/use-agent/contextpool/webhook"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one submitted scrape request tracked through to completion.
type Job struct {
	ID          string
	Status      Status
	Request     pool.ScrapeRequest
	Format      string
	ExtractMode string
	RenderOpts  cleaner.CleanOptions
	Result      *pool.ScrapeResult
	Error       string
	WebhookURL  string
	Secret      string
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// Queue is a small worker pool over a buffered channel, pulling jobs and
// running them through the same coordinator the synchronous HTTP path
// uses. Completed jobs stay in the in-memory store until evicted by their
// age (see Prune).
type Queue struct {
	coord   *pool.Coordinator
	workers int
	mc      *metrics.Collector

	mu    sync.RWMutex
	jobs  map[string]*Job
	tasks chan string

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Queue with the given number of worker goroutines, backed by
// coord. mc may be nil, in which case job outcomes simply aren't recorded.
// Call Start to begin processing.
func New(coord *pool.Coordinator, workers int, mc *metrics.Collector) *Queue {
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		coord:   coord,
		workers: workers,
		mc:      mc,
		jobs:    make(map[string]*Job),
		tasks:   make(chan string, 256),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker goroutines. Idempotent is not required here —
// the supervisor-style caller is expected to call it exactly once.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop signals workers to exit after draining in-flight tasks and waits
// for them to finish.
func (q *Queue) Stop() {
	close(q.stop)
	close(q.tasks)
	q.wg.Wait()
}

// Submit enqueues a new job and returns the queued *Job immediately (202-Accepted
// semantics at the HTTP edge). format/extractMode/renderOpts are stashed
// unused by the worker and only consulted when the API layer renders the
// eventual result's content.
func (q *Queue) Submit(req pool.ScrapeRequest, format, extractMode string, renderOpts cleaner.CleanOptions, webhookURL, secret string) *Job {
	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusQueued,
		Request:     req,
		Format:      format,
		ExtractMode: extractMode,
		RenderOpts:  renderOpts,
		WebhookURL:  webhookURL,
		Secret:      secret,
		CreatedAt:   time.Now(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	q.tasks <- job.ID
	return job
}

// Get returns a job by ID.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	return j, ok
}

// Prune removes completed/failed jobs older than maxAge, bounding memory
// growth the same way the registry bounds context count.
func (q *Queue) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, j := range q.jobs {
		if (j.Status == StatusCompleted || j.Status == StatusFailed) && j.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			n++
		}
	}
	return n
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for id := range q.tasks {
		q.run(id)
	}
}

func (q *Queue) run(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok {
		job.Status = StatusRunning
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout(job.Request))
	defer cancel()

	start := time.Now()
	result, err := q.coord.Scrape(ctx, job.Request)
	if q.mc != nil {
		q.mc.RecordScrape(err == nil && result.Success, time.Since(start).Seconds(), result.QueueWait.Seconds())
	}

	q.mu.Lock()
	job.FinishedAt = time.Now()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Result = &result
		if !result.Success {
			job.Error = result.Error
		}
	}
	q.mu.Unlock()

	if job.WebhookURL == "" {
		return
	}

	eventType := "job.completed"
	if err != nil || !result.Success {
		eventType = "job.failed"
	}
	webhook.DeliverAsync(job.WebhookURL, job.Secret, &webhook.Event{
		Type:      eventType,
		JobID:     job.ID,
		Timestamp: job.FinishedAt.Unix(),
		Data:      job,
	})
}

func jobTimeout(req pool.ScrapeRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout + 10*time.Second
	}
	return 40 * time.Second
}

// ErrJobNotFound is returned by the HTTP edge when a job ID doesn't exist.
var ErrJobNotFound = errors.New("jobqueue: job not found")
