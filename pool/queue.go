package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// queueResult is what a queued request's one-shot completion slot resolves
// to: either a context or a failure. Exactly one of the two is set.
type queueResult struct {
	ctx *Context
	err error
}

// QueuedRequest is a waiter for a future context (spec §3, §4.3). The
// completion slot is realized as a buffered channel of capacity 1 guarded
// by the resolved flag under mu: resolve and reject send only while the
// flag is unset, satisfying "resolves at most once" (property 8).
type QueuedRequest struct {
	ID               string
	Tags             map[string]struct{}
	Domain           string
	DelayOverride    time.Duration
	EnqueuedAt       time.Time

	mu       sync.Mutex
	resolved bool
	done     chan queueResult
}

func newQueuedRequest(tags map[string]struct{}, domain string, delayOverride time.Duration) *QueuedRequest {
	return &QueuedRequest{
		ID:            uuid.NewString(),
		Tags:          tags,
		Domain:        domain,
		DelayOverride: delayOverride,
		EnqueuedAt:    time.Now(),
		done:          make(chan queueResult, 1),
	}
}

// Wait blocks until the request is resolved, rejected, or the deadline
// (max_queue_wait) elapses, whichever comes first.
func (q *QueuedRequest) Wait(deadline time.Duration) (*Context, error) {
	select {
	case r := <-q.done:
		return r.ctx, r.err
	case <-time.After(deadline):
		return nil, newErr(ErrQueueTimeout, "no context available", nil)
	}
}

// resolve and reject each transition the slot exactly once; a second
// attempt (from either) is a no-op and reports false, matching invariant 6.
func (q *QueuedRequest) resolve(ctx *Context) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.resolved {
		return false
	}
	q.resolved = true
	q.done <- queueResult{ctx: ctx}
	return true
}

func (q *QueuedRequest) reject(err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.resolved {
		return false
	}
	q.resolved = true
	q.done <- queueResult{err: err}
	return true
}

func (q *QueuedRequest) isResolved() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolved
}

func (q *QueuedRequest) expired(maxWait time.Duration) bool {
	return time.Since(q.EnqueuedAt) >= maxWait
}

// RequestQueue is the FIFO sequence of spec §4.3. mu guards the sequence;
// each entry's completion slot is guarded by that entry's own lock.
type RequestQueue struct {
	mu    sync.Mutex
	items []*QueuedRequest
}

func newRequestQueue() *RequestQueue {
	return &RequestQueue{}
}

// Enqueue appends a new waiter and returns its handle.
func (q *RequestQueue) Enqueue(tags map[string]struct{}, domain string, delayOverride time.Duration) *QueuedRequest {
	req := newQueuedRequest(tags, domain, delayOverride)
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()
	return req
}

// Dequeue removes a request by id without resolving it; used when a waiter
// times out or is cancelled. Returns false if not present.
func (q *RequestQueue) Dequeue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.items {
		if r.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// pending returns every request whose slot has not yet resolved.
func (q *RequestQueue) pending() []*QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*QueuedRequest, 0, len(q.items))
	for _, r := range q.items {
		if !r.isResolved() {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the total queue size, including already-resolved entries not
// yet dequeued.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PendingCount counts pending requests, optionally filtered to those whose
// required tags are a subset of tags.
func (q *RequestQueue) PendingCount(tags map[string]struct{}) int {
	pending := q.pending()
	if len(tags) == 0 {
		return len(pending)
	}
	count := 0
	for _, r := range pending {
		if isSubset(r.Tags, tags) {
			count++
		}
	}
	return count
}

// FindMatch returns the first pending request (FIFO of enqueued_at) whose
// required tags are a subset of availableTags and whose domain (if any)
// matches the offered domain.
func (q *RequestQueue) FindMatch(availableTags map[string]struct{}, domain string) *QueuedRequest {
	for _, r := range q.pending() {
		if len(r.Tags) > 0 && !isSubset(r.Tags, availableTags) {
			continue
		}
		if r.Domain != "" && domain != "" && r.Domain != domain {
			continue
		}
		return r
	}
	return nil
}

// Resolve and Reject transition a request's slot by id. Both report false
// if the id is unknown or the slot already resolved.
func (q *RequestQueue) Resolve(id string, ctx *Context) bool {
	q.mu.Lock()
	var req *QueuedRequest
	for _, r := range q.items {
		if r.ID == id {
			req = r
			break
		}
	}
	q.mu.Unlock()
	if req == nil {
		return false
	}
	return req.resolve(ctx)
}

func (q *RequestQueue) Reject(id string, err error) bool {
	q.mu.Lock()
	var req *QueuedRequest
	for _, r := range q.items {
		if r.ID == id {
			req = r
			break
		}
	}
	q.mu.Unlock()
	if req == nil {
		return false
	}
	return req.reject(err)
}

// CleanupExpired rejects every pending request whose deadline has passed
// with a QueueTimeout, drops it from the sequence, and returns the count.
func (q *RequestQueue) CleanupExpired(maxWait time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := q.items[:0:0]
	expired := 0
	for _, r := range q.items {
		if !r.isResolved() && r.expired(maxWait) {
			r.reject(newErr(ErrQueueTimeout, "request timed out waiting for a context", nil))
			expired++
			continue
		}
		remaining = append(remaining, r)
	}
	q.items = remaining
	return expired
}

func isSubset(required, available map[string]struct{}) bool {
	for t := range required {
		if _, ok := available[t]; !ok {
			return false
		}
	}
	return true
}
