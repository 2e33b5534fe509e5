package pool

import (
	"math"
	"testing"
	"time"
)

func weights() EvictionWeights { return EvictionWeights{Idle: 1, Error: 1, Age: 1} }

func TestScore_InUseIsNegativeInfinity(t *testing.T) {
	s := Snapshot{InUse: true, CreatedAt: time.Now()}
	if got := score(s, weights()); !math.IsInf(got, -1) {
		t.Errorf("score(in_use) = %v, want -Inf", got)
	}
}

func TestScore_ProtectedIsNegativeInfinity(t *testing.T) {
	s := Snapshot{Tags: []string{ProtectedTag}, CreatedAt: time.Now()}
	if got := score(s, weights()); !math.IsInf(got, -1) {
		t.Errorf("score(protected) = %v, want -Inf", got)
	}
}

func TestScore_RetiringIsNegativeInfinity(t *testing.T) {
	s := Snapshot{Retiring: true, CreatedAt: time.Now()}
	if got := score(s, weights()); !math.IsInf(got, -1) {
		t.Errorf("score(retiring) = %v, want -Inf", got)
	}
}

func TestScore_WeightsAppliedAndOrdered(t *testing.T) {
	now := time.Now()
	idle := Snapshot{CreatedAt: now.Add(-time.Hour), LastUsedAt: now.Add(-time.Hour)}
	fresh := Snapshot{CreatedAt: now, LastUsedAt: now}

	if score(idle, weights()) <= score(fresh, weights()) {
		t.Error("a long-idle context should score higher (more evictable) than a fresh one")
	}
}

func TestFindEvictionCandidate_ExcludesTagged(t *testing.T) {
	now := time.Now()
	candidates := []Snapshot{
		{ID: "a", CreatedAt: now.Add(-time.Hour), LastUsedAt: now.Add(-time.Hour), Tags: []string{"residential"}},
		{ID: "b", CreatedAt: now.Add(-time.Minute), LastUsedAt: now.Add(-time.Minute)},
	}
	exclude := map[string]struct{}{"residential": {}}

	got, ok := findEvictionCandidate(candidates, exclude, weights())
	if !ok || got.ID != "b" {
		t.Fatalf("expected candidate b (a excluded by tag), got %+v ok=%v", got, ok)
	}
}

func TestFindEvictionCandidate_NoneEvictable(t *testing.T) {
	candidates := []Snapshot{{ID: "a", InUse: true}, {ID: "b", Tags: []string{ProtectedTag}}}
	_, ok := findEvictionCandidate(candidates, nil, weights())
	if ok {
		t.Error("expected no evictable candidate")
	}
}

func TestFindEvictionCandidate_TieBreakOldestFirst(t *testing.T) {
	now := time.Now()
	older := Snapshot{ID: "old", CreatedAt: now.Add(-3 * time.Hour), LastUsedAt: now.Add(-2 * time.Hour)}
	newer := Snapshot{ID: "new", CreatedAt: now.Add(-2 * time.Hour), LastUsedAt: now.Add(-2 * time.Hour)}

	// Only the error weight is set, so both scores are exactly 0 whenever
	// score reads the clock and the created_at tie-break alone decides.
	got, ok := findEvictionCandidate([]Snapshot{newer, older}, nil, EvictionWeights{Error: 1})
	if !ok || got.ID != "old" {
		t.Fatalf("expected deterministic tie-break to pick the older context, got %+v", got)
	}
}

func TestShouldRecreate(t *testing.T) {
	if shouldRecreate(Snapshot{ConsecutiveErrors: 2}, 3) {
		t.Error("should not recreate below threshold")
	}
	if !shouldRecreate(Snapshot{ConsecutiveErrors: 3}, 3) {
		t.Error("should recreate at threshold")
	}
}

func TestHealthScore(t *testing.T) {
	never := healthScore(Snapshot{})
	if never != 0 {
		t.Errorf("health score of a never-used context = %v, want 0", never)
	}

	errored := healthScore(Snapshot{ConsecutiveErrors: 2, ErrorCount: 1, TotalRequests: 2})
	if errored <= never {
		t.Error("a context with errors should score worse (higher) than a clean one")
	}
}
