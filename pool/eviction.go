package pool

import (
	"math"
	"time"
)

// score implements the C2 formula of spec §4.2. -Inf means never evict.
func score(s Snapshot, w EvictionWeights) float64 {
	if s.InUse || s.Retiring {
		return math.Inf(-1)
	}
	if _, protected := lookupTag(s.Tags, ProtectedTag); protected {
		return math.Inf(-1)
	}

	now := time.Now()
	reference := s.LastUsedAt
	if reference.IsZero() {
		reference = s.CreatedAt
	}
	idleSeconds := now.Sub(reference).Seconds()

	var errRate float64
	if s.TotalRequests > 0 {
		errRate = float64(s.ErrorCount) / float64(s.TotalRequests)
	}

	ageSeconds := now.Sub(s.CreatedAt).Seconds()

	return w.Idle*idleSeconds + w.Error*errRate*100 + w.Age*ageSeconds
}

func lookupTag(tags []string, want string) (string, bool) {
	for _, t := range tags {
		if t == want {
			return t, true
		}
	}
	return "", false
}

// findEvictionCandidate returns the argmax of score among snapshots whose
// tags are disjoint from excludeTags, with deterministic tie-break on the
// oldest created_at. Returns (Snapshot{}, false) if none is evictable.
func findEvictionCandidate(snapshots []Snapshot, excludeTags map[string]struct{}, w EvictionWeights) (Snapshot, bool) {
	var best Snapshot
	bestScore := math.Inf(-1)
	found := false

	for _, s := range snapshots {
		if tagsIntersect(s.Tags, excludeTags) {
			continue
		}
		sc := score(s, w)
		if math.IsInf(sc, -1) {
			continue
		}
		switch {
		case !found:
			best, bestScore, found = s, sc, true
		case sc > bestScore:
			best, bestScore = s, sc
		case sc == bestScore && s.CreatedAt.Before(best.CreatedAt):
			best = s
		}
	}
	return best, found
}

func tagsIntersect(tags []string, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// shouldRecreate reports whether ctx has crossed the consecutive-error
// threshold and must be torn down and recreated (spec §4.2).
func shouldRecreate(s Snapshot, maxConsecutiveErrors int) bool {
	return s.ConsecutiveErrors >= maxConsecutiveErrors
}

// healthScore is the registry's own candidate-ranking function used by
// select_context (spec §4.4), distinct from the eviction score above.
func healthScore(s Snapshot) float64 {
	totalForRate := s.TotalRequests
	if totalForRate < 1 {
		totalForRate = 1
	}
	return 10*float64(s.ConsecutiveErrors) + 5*(float64(s.ErrorCount)/float64(totalForRate))
}
