package pool

import (
	"testing"
	"time"
)

func TestQueue_ResolveExactlyOnce(t *testing.T) {
	q := newRequestQueue()
	req := q.Enqueue(nil, "", 0)
	ctx := newContext("c1", "", false, nil, nil, "")

	if !q.Resolve(req.ID, ctx) {
		t.Fatal("first resolve should succeed")
	}
	if q.Resolve(req.ID, ctx) {
		t.Error("second resolve must be a no-op returning false (invariant 6)")
	}
	if q.Reject(req.ID, newErr(ErrQueueTimeout, "x", nil)) {
		t.Error("reject after resolve must also return false")
	}
}

func TestQueue_RejectExactlyOnce(t *testing.T) {
	q := newRequestQueue()
	req := q.Enqueue(nil, "", 0)

	if !q.Reject(req.ID, newErr(ErrQueueTimeout, "timed out", nil)) {
		t.Fatal("first reject should succeed")
	}
	if q.Reject(req.ID, newErr(ErrQueueTimeout, "timed out", nil)) {
		t.Error("second reject must be a no-op")
	}

	_, err := req.Wait(time.Second)
	if err == nil {
		t.Error("a rejected request's Wait should return the rejection error")
	}
}

func TestQueue_FindMatch_TagSubset(t *testing.T) {
	q := newRequestQueue()
	strict := q.Enqueue(map[string]struct{}{"residential": {}}, "", 0)
	loose := q.Enqueue(nil, "", 0)

	available := map[string]struct{}{"basic": {}}
	match := q.FindMatch(available, "")
	if match == nil || match.ID != loose.ID {
		t.Fatalf("expected the untagged request to match first, got %v (strict=%s loose=%s)", match, strict.ID, loose.ID)
	}
}

func TestQueue_FindMatch_FIFOOrder(t *testing.T) {
	q := newRequestQueue()
	first := q.Enqueue(nil, "", 0)
	time.Sleep(time.Millisecond)
	q.Enqueue(nil, "", 0)

	match := q.FindMatch(nil, "")
	if match == nil || match.ID != first.ID {
		t.Error("find_match must return the earliest pending match")
	}
}

func TestQueue_FindMatch_DomainMismatch(t *testing.T) {
	q := newRequestQueue()
	q.Enqueue(nil, "a.com", 0)

	if got := q.FindMatch(nil, "b.com"); got != nil {
		t.Error("a request bound to a.com must not match an offer for b.com")
	}
}

func TestQueue_Dequeue(t *testing.T) {
	q := newRequestQueue()
	req := q.Enqueue(nil, "", 0)

	if !q.Dequeue(req.ID) {
		t.Fatal("dequeue of a present id should return true")
	}
	if q.Dequeue(req.ID) {
		t.Error("dequeue of an already-removed id should return false")
	}
}

func TestQueue_CleanupExpired(t *testing.T) {
	q := newRequestQueue()
	req := q.Enqueue(nil, "", 0)
	req.EnqueuedAt = time.Now().Add(-time.Hour)

	n := q.CleanupExpired(time.Second)
	if n != 1 {
		t.Fatalf("expected 1 expired request, got %d", n)
	}
	if q.Len() != 0 {
		t.Error("expired request should be dropped from the sequence")
	}

	_, err := req.Wait(time.Millisecond)
	if err == nil {
		t.Error("expired request's slot should resolve with a timeout error")
	}
}

func TestQueue_PendingCountByTags(t *testing.T) {
	q := newRequestQueue()
	q.Enqueue(map[string]struct{}{"residential": {}}, "", 0)
	q.Enqueue(nil, "", 0)

	// The untagged request's empty tag set is a subset of {residential}.
	if got := q.PendingCount(map[string]struct{}{"residential": {}}); got != 2 {
		t.Errorf("PendingCount(residential) = %d, want 2", got)
	}
	if got := q.PendingCount(nil); got != 2 {
		t.Errorf("PendingCount(nil) = %d, want 2", got)
	}
}
