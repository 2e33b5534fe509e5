package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Events lets a caller outside pool/ observe eviction and recreation
// without the core depending on any particular metrics or logging library.
type Events interface {
	Eviction()
	Recreation()
}

type noopEvents struct{}

func (noopEvents) Eviction()   {}
func (noopEvents) Recreation() {}

// ContextRegistry owns the set of live contexts and their metadata (C4).
// All in-memory mutations are performed while holding mu; driver calls
// happen outside it, after the in-memory state is already consistent —
// the discipline spec §5 calls "mutate then suspend for I/O".
type ContextRegistry struct {
	cfg    Config
	driver Driver
	events Events
	queue  *RequestQueue

	mu       sync.Mutex
	contexts map[string]*Context
	size     atomic.Int64 // mirrors len(contexts) for lock-free reads

	browser BrowserHandle
	started atomic.Bool
}

func newContextRegistry(cfg Config, driver Driver) *ContextRegistry {
	return &ContextRegistry{
		cfg:      cfg,
		driver:   driver,
		events:   noopEvents{},
		contexts: make(map[string]*Context),
	}
}

// SetEvents installs a hook invoked on eviction and recreation. Passing nil
// restores the no-op default.
func (r *ContextRegistry) SetEvents(e Events) {
	if e == nil {
		e = noopEvents{}
	}
	r.events = e
}

// SetQueue wires the request queue the registry offers freed contexts to on
// release and recreation, so a waiter parked in Coordinator.Scrape resumes
// as soon as a match becomes available instead of only on timeout (spec
// §4.5's "resolved → ACQUIRE" transition).
func (r *ContextRegistry) SetQueue(q *RequestQueue) {
	r.queue = q
}

func (r *ContextRegistry) setStarted(browser BrowserHandle) {
	r.browser = browser
	r.started.Store(true)
}

func (r *ContextRegistry) setStopped() {
	r.started.Store(false)
	r.browser = nil
}

func (r *ContextRegistry) requireStarted() error {
	if !r.started.Load() {
		return newErr(ErrPoolNotStarted, "pool not started", nil)
	}
	return nil
}

// Size returns the number of live contexts without taking the mutex.
func (r *ContextRegistry) Size() int { return int(r.size.Load()) }

// createContext implements spec §4.4 create_context. Preconditions: the
// pool is started and under capacity.
func (r *ContextRegistry) createContext(ctx context.Context, proxy string, persistent bool, tags []string) (*Context, error) {
	if err := r.requireStarted(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.contexts) >= r.cfg.MaxContexts {
		r.mu.Unlock()
		return nil, newErr(ErrContextInUse, "pool at capacity", nil)
	}
	r.mu.Unlock()

	return r.createContextLocked(ctx, proxy, persistent, tags)
}

// createContextLocked performs the actual driver calls and insertion. It
// does not itself hold r.mu across the driver calls — only the final map
// insert is protected — matching the "no suspension point inside a
// mutex-held critical section" rule.
func (r *ContextRegistry) createContextLocked(ctx context.Context, proxy string, persistent bool, tags []string) (*Context, error) {
	id := uuid.NewString()

	var storageState []byte
	if persistent {
		if state, err := loadPersistedState(r.cfg.PersistentContextsPath, id); err == nil {
			storageState = state
		}
	}

	handle, err := r.driver.NewContext(ctx, r.browser, NewContextParams{Proxy: proxy, StorageState: storageState})
	if err != nil {
		return nil, newErr(ErrDriverCrash, "failed to open browser context", err)
	}

	page, err := r.driver.NewPage(ctx, handle)
	if err != nil {
		_ = r.driver.CloseContext(ctx, handle)
		return nil, newErr(ErrDriverCrash, "failed to open page", err)
	}
	_ = page // kept on the Context via DriverHandle wrapper below

	// CDP target URL is best-effort; failure never aborts creation.
	cdpURL, _ := r.driver.CDPTargetURL(ctx, handle, page)

	wrapped := &contextHandle{driverCtx: handle, page: page}
	c := newContext(id, proxy, persistent, tags, wrapped, cdpURL)

	r.mu.Lock()
	r.contexts[id] = c
	r.mu.Unlock()
	r.size.Add(1)

	return c, nil
}

// contextHandle bundles the driver's context handle with its one page, so
// pool/ carries a single DriverHandle value per Context while still giving
// the coordinator direct access to the page for navigate/evaluate/etc.
type contextHandle struct {
	driverCtx DriverHandle
	page      PageHandle
}

// acquireContext implements spec §4.4 acquire_context.
func (r *ContextRegistry) acquireContext(id string) (*Context, error) {
	r.mu.Lock()
	c, ok := r.contexts[id]
	r.mu.Unlock()
	if !ok {
		return nil, newErr(ErrContextNotFound, id, nil)
	}

	c.mu.Lock()
	if c.inUse {
		c.mu.Unlock()
		return nil, newErr(ErrContextNotAvail, id, nil)
	}
	c.inUse = true
	c.mu.Unlock()
	return c, nil
}

// releaseContext implements spec §4.4 release_context: for persistent
// contexts, snapshot storage state first (failures are logged and
// swallowed, never surfaced); then, rather than unconditionally going idle,
// offer the context straight to the longest-waiting matching queued request
// (spec §4.5 scenario S4). A retiring context is never offered. Only if
// nothing is waiting does it actually go idle for the next select_context
// scan.
func (r *ContextRegistry) releaseContext(ctx context.Context, id string) {
	r.mu.Lock()
	c, ok := r.contexts[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	if c.Persistent {
		state, err := r.driver.StorageState(ctx, c.DriverHandle.(*contextHandle).driverCtx)
		if err == nil {
			err = persistState(r.cfg.PersistentContextsPath, id, state)
		}
		if err != nil {
			slog.Warn("failed to persist context storage on release", "id", id, "error", err)
		}
	}

	c.mu.Lock()
	retiring := c.retiring
	c.mu.Unlock()
	if !retiring && r.offerToQueue(c) {
		return
	}

	c.mu.Lock()
	c.inUse = false
	c.mu.Unlock()
}

// offerToQueue hands c directly to the first pending queued request whose
// tags it satisfies, transferring ownership without a release/re-acquire
// gap in which a concurrent select_context could steal it. Returns true iff
// a waiter took it, in which case c.inUse is left true.
func (r *ContextRegistry) offerToQueue(c *Context) bool {
	if r.queue == nil {
		return false
	}
	waiter := r.queue.FindMatch(c.tagSet(), "")
	if waiter == nil {
		return false
	}

	c.mu.Lock()
	c.inUse = true
	c.mu.Unlock()

	if r.queue.Resolve(waiter.ID, c) {
		return true
	}
	// Lost the race to another release resolving the same waiter first.
	c.mu.Lock()
	c.inUse = false
	c.mu.Unlock()
	return false
}

// removeContext implements spec §4.4 remove_context and invariant 7: delete
// from the map before the driver call, so no concurrent operation ever
// observes a mid-teardown entry.
func (r *ContextRegistry) removeContext(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	c, ok := r.contexts[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	c.mu.Lock()
	inUse := c.inUse
	c.mu.Unlock()
	if inUse {
		r.mu.Unlock()
		return false, newErr(ErrContextInUse, id, nil)
	}
	delete(r.contexts, id)
	r.mu.Unlock()
	r.size.Add(-1)

	if c.Persistent {
		if state, err := r.driver.StorageState(ctx, c.DriverHandle.(*contextHandle).driverCtx); err == nil {
			_ = persistState(r.cfg.PersistentContextsPath, id, state)
		}
	}

	_ = r.driver.CloseContext(ctx, c.DriverHandle.(*contextHandle).driverCtx)
	return true, nil
}

// removeAcquiredContext forces an in-use context out of the pool. It's used
// when the coordinator detects the underlying driver connection is dead —
// such a context can never be meaningfully released back to a caller or
// offered to a queued waiter, so it skips straight to teardown instead of
// going through release_context.
func (r *ContextRegistry) removeAcquiredContext(ctx context.Context, id string) {
	c, ok := r.getContext(id)
	if !ok {
		return
	}
	c.mu.Lock()
	c.inUse = false
	c.mu.Unlock()
	_, _ = r.removeContext(ctx, id)
}

func (r *ContextRegistry) getContext(id string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	return c, ok
}

func (r *ContextRegistry) addTags(id string, tags []string) error {
	c, ok := r.getContext(id)
	if !ok {
		return newErr(ErrContextNotFound, id, nil)
	}
	c.addTags(tags)
	return nil
}

func (r *ContextRegistry) removeTags(id string, tags []string) error {
	c, ok := r.getContext(id)
	if !ok {
		return newErr(ErrContextNotFound, id, nil)
	}
	c.removeTags(tags)
	return nil
}

// listContexts returns a snapshot projection; a context is included iff its
// tag set is a superset of requiredTags.
func (r *ContextRegistry) listContexts(requiredTags map[string]struct{}) []Snapshot {
	r.mu.Lock()
	all := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		all = append(all, c)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, c := range all {
		if len(requiredTags) > 0 && !c.hasTags(requiredTags) {
			continue
		}
		out = append(out, c.snapshot())
	}
	return out
}

// selectContext implements spec §4.4 select_context.
func (r *ContextRegistry) selectContext(requiredTags map[string]struct{}, domain string, delayOverride time.Duration) *Context {
	r.mu.Lock()
	all := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		all = append(all, c)
	}
	r.mu.Unlock()

	var best *Context
	var bestScore float64
	var bestSnap Snapshot
	found := false

	for _, c := range all {
		c.mu.Lock()
		inUse, retiring := c.inUse, c.retiring
		c.mu.Unlock()
		if inUse || retiring {
			continue
		}
		if len(requiredTags) > 0 && !c.hasTags(requiredTags) {
			continue
		}
		if domain != "" && !canRequest(c, domain, delayOverride, r.cfg.DefaultDomainDelay) {
			continue
		}

		snap := c.snapshot()
		hs := healthScore(snap)
		switch {
		case !found:
			best, bestScore, bestSnap, found = c, hs, snap, true
		case hs < bestScore:
			best, bestScore, bestSnap = c, hs, snap
		case hs == bestScore && snap.LastUsedAt.Before(bestSnap.LastUsedAt):
			best, bestSnap = c, snap
		}
	}
	return best
}

// evictAndReplace implements spec §4.4 evict_and_replace.
func (r *ContextRegistry) evictAndReplace(ctx context.Context, tags []string, proxy string) (*Context, error) {
	r.mu.Lock()
	underCapacity := len(r.contexts) < r.cfg.MaxContexts
	r.mu.Unlock()
	if underCapacity {
		return r.createContextLocked(ctx, proxy, false, tags)
	}

	snapshots := r.listContexts(nil)
	victim, ok := findEvictionCandidate(snapshots, nil, r.cfg.EvictionWeights)
	if !ok {
		return nil, nil
	}

	if _, err := r.removeContext(ctx, victim.ID); err != nil {
		return nil, nil
	}
	r.events.Eviction()
	return r.createContextLocked(ctx, proxy, false, tags)
}

// recreateContext implements spec §4.4 recreate_context, preserving proxy,
// persistent, and tags (minus the auto proxy tag) across the tear-down.
func (r *ContextRegistry) recreateContext(ctx context.Context, id string) (*Context, error) {
	c, ok := r.getContext(id)
	if !ok {
		return nil, newErr(ErrContextNotFound, id, nil)
	}

	proxy := c.Proxy
	persistent := c.Persistent
	tags := c.tagsMinusProxy()

	c.mu.Lock()
	c.inUse = false
	c.mu.Unlock()

	if _, err := r.removeContext(ctx, id); err != nil {
		return nil, err
	}
	r.events.Recreation()

	created, err := r.createContextLocked(ctx, proxy, persistent, tags)
	if err != nil {
		return nil, err
	}
	// The replacement is fresh capacity, not a caller's in-flight request;
	// offer it to any matching waiter before it just sits idle.
	r.offerToQueue(created)
	return created, nil
}

// markRetiring atomically flags a context as retiring (Open Question
// option b): once set, select_context treats it exactly like in_use, so no
// subsequent caller can be handed a context whose recreation is pending.
func (r *ContextRegistry) markRetiring(id string) {
	c, ok := r.getContext(id)
	if !ok {
		return
	}
	c.mu.Lock()
	c.retiring = true
	c.mu.Unlock()
}

// closeAll tears down every context, ignoring individual errors — used by
// the supervisor's stop sequence.
func (r *ContextRegistry) closeAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.contexts))
	for id := range r.contexts {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		c, ok := r.contexts[id]
		if ok {
			delete(r.contexts, id)
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		r.size.Add(-1)
		_ = r.driver.CloseContext(ctx, c.DriverHandle.(*contextHandle).driverCtx)
	}
}

// ── Exported control-surface API ──────────────────────────────────────
//
// The operations above are used internally by the coordinator; these thin
// wrappers are what the out-of-core HTTP/MCP edges call for context
// control (create, acquire/release for CAPTCHA flows, tag edits, removal,
// pool state projection) per spec §6.

func (r *ContextRegistry) CreateContext(ctx context.Context, proxy string, persistent bool, tags []string) (*Context, error) {
	return r.createContext(ctx, proxy, persistent, tags)
}

func (r *ContextRegistry) AcquireContext(id string) (*Context, error) { return r.acquireContext(id) }

func (r *ContextRegistry) ReleaseContext(ctx context.Context, id string) { r.releaseContext(ctx, id) }

func (r *ContextRegistry) RemoveContext(ctx context.Context, id string) (bool, error) {
	return r.removeContext(ctx, id)
}

func (r *ContextRegistry) AddTags(id string, tags []string) error    { return r.addTags(id, tags) }
func (r *ContextRegistry) RemoveTags(id string, tags []string) error { return r.removeTags(id, tags) }

func (r *ContextRegistry) GetContext(id string) (*Context, bool) { return r.getContext(id) }

func (r *ContextRegistry) ListContexts(requiredTags map[string]struct{}) []Snapshot {
	return r.listContexts(requiredTags)
}

func (r *ContextRegistry) SelectContext(requiredTags map[string]struct{}, domain string, delayOverride time.Duration) *Context {
	return r.selectContext(requiredTags, domain, delayOverride)
}

func (r *ContextRegistry) EvictAndReplace(ctx context.Context, tags []string, proxy string) (*Context, error) {
	return r.evictAndReplace(ctx, tags, proxy)
}

func (r *ContextRegistry) RecreateContext(ctx context.Context, id string) (*Context, error) {
	return r.recreateContext(ctx, id)
}

// AvailableCount returns the number of contexts currently not in use, for
// the pool state projection.
func (r *ContextRegistry) AvailableCount() int {
	r.mu.Lock()
	all := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		all = append(all, c)
	}
	r.mu.Unlock()

	n := 0
	for _, c := range all {
		c.mu.Lock()
		inUse := c.inUse
		c.mu.Unlock()
		if !inUse {
			n++
		}
	}
	return n
}
