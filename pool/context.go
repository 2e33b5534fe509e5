package pool

import (
	"sync"
	"time"
)

// ProtectedTag forbids eviction and replacement (spec invariant 2).
const ProtectedTag = "protected"

// proxyTag returns the reserved tag form the registry maintains for a
// context's proxy. It is the only tag with prefix meaning; every other
// tag is an opaque string compared only for exact-match subset tests.
func proxyTag(proxy string) string {
	return "proxy:" + proxy
}

// DriverHandle is the opaque capability C6 hands back for one isolated
// browser context and its default page. The core never inspects it.
type DriverHandle interface{}

// Context is the unit the registry owns: one isolated, cookie/storage
// separated session inside the shared browser process.
//
// Per the design notes, mutable counters are guarded by a per-context lock
// rather than the registry's single lock, so selection can scan contexts
// concurrently with a coordinator recording an outcome on one of them.
type Context struct {
	ID           string
	DriverHandle DriverHandle

	Proxy      string
	Persistent bool

	mu                 sync.Mutex
	tags               map[string]struct{}
	inUse              bool
	createdAt          time.Time
	lastUsedAt         time.Time // zero value means "never used"
	totalRequests      int
	errorCount         int
	consecutiveErrors  int
	domainLastRequest  map[string]time.Time
	cdpTargetURL       string
	retiring           bool // internal-only; never part of the public tag set (Open Question, option b)
}

// newContext builds a Context with the given id, proxy and tags, inserting
// the reserved proxy tag if a proxy is set (spec invariant 3).
func newContext(id string, proxy string, persistent bool, tags []string, handle DriverHandle, cdpTargetURL string) *Context {
	tagSet := make(map[string]struct{}, len(tags)+1)
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	if proxy != "" {
		tagSet[proxyTag(proxy)] = struct{}{}
	}
	return &Context{
		ID:                id,
		DriverHandle:      handle,
		Proxy:             proxy,
		Persistent:        persistent,
		tags:              tagSet,
		createdAt:         time.Now(),
		domainLastRequest: make(map[string]time.Time),
		cdpTargetURL:      cdpTargetURL,
	}
}

// Snapshot is a point-in-time, lock-free view of a Context's metadata, used
// for projections (list_contexts, pool state) and for scoring.
type Snapshot struct {
	ID                string
	Proxy             string
	Persistent        bool
	Tags              []string
	InUse             bool
	Retiring          bool
	CreatedAt         time.Time
	LastUsedAt        time.Time
	TotalRequests     int
	ErrorCount        int
	ConsecutiveErrors int
	CDPTargetURL      string
}

// Snapshot returns a point-in-time, lock-free view of the context's
// metadata, for use by the control-surface edge (list/pool-state).
func (c *Context) Snapshot() Snapshot { return c.snapshot() }

func (c *Context) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags := make([]string, 0, len(c.tags))
	for t := range c.tags {
		tags = append(tags, t)
	}
	return Snapshot{
		ID:                c.ID,
		Proxy:             c.Proxy,
		Persistent:        c.Persistent,
		Tags:              tags,
		InUse:             c.inUse,
		Retiring:          c.retiring,
		CreatedAt:         c.createdAt,
		LastUsedAt:        c.lastUsedAt,
		TotalRequests:     c.totalRequests,
		ErrorCount:        c.errorCount,
		ConsecutiveErrors: c.consecutiveErrors,
		CDPTargetURL:      c.cdpTargetURL,
	}
}

// tagSet returns a copy of the context's current tags, for matching against
// a queued request's required tags without holding c.mu across the call.
func (c *Context) tagSet() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{}, len(c.tags))
	for t := range c.tags {
		out[t] = struct{}{}
	}
	return out
}

// hasTags reports whether the context's tag set is a superset of required.
func (c *Context) hasTags(required map[string]struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range required {
		if _, ok := c.tags[t]; !ok {
			return false
		}
	}
	return true
}

// disjointFrom reports whether the context's tag set shares no member with other.
func (c *Context) disjointFrom(other map[string]struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range other {
		if _, ok := c.tags[t]; ok {
			return false
		}
	}
	return true
}

func (c *Context) addTags(tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tags {
		c.tags[t] = struct{}{}
	}
}

func (c *Context) removeTags(tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tags {
		delete(c.tags, t)
	}
}

// tagsMinusProxy returns the context's current tags with its own reserved
// proxy tag stripped, for use by recreate_context (spec §4.4).
func (c *Context) tagsMinusProxy() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tags))
	skip := ""
	if c.Proxy != "" {
		skip = proxyTag(c.Proxy)
	}
	for t := range c.tags {
		if t == skip {
			continue
		}
		out = append(out, t)
	}
	return out
}
