package pool

import (
	"context"
	"errors"
	"time"
)

// ScrapeRequest is the input contract C5 consumes (spec §6). The wire shape
// at the HTTP edge is out of scope; this is the in-process value the
// coordinator operates on.
type ScrapeRequest struct {
	URL   string
	Tags  []string
	Proxy string

	WaitUntil WaitUntil
	Timeout   time.Duration

	GetContent bool
	Script     string
	Screenshot bool
	ScreenshotFullPage bool

	DomainDelayOverride time.Duration
}

// ScrapeResult is the output contract C5 produces (spec §4.5 "Result shape").
type ScrapeResult struct {
	Success      bool
	URL          string
	Status       int
	Content      string
	HasContent   bool
	ScriptResult any
	Screenshot   []byte
	ContextID    string
	QueueWait    time.Duration
	Error        string
}

// Coordinator is C5: the end-to-end handler of one scrape request.
type Coordinator struct {
	registry *ContextRegistry
	queue    *RequestQueue
	driver   Driver
	cfg      Config
}

func newCoordinator(registry *ContextRegistry, queue *RequestQueue, driver Driver, cfg Config) *Coordinator {
	return &Coordinator{registry: registry, queue: queue, driver: driver, cfg: cfg}
}

// Scrape runs the state machine of spec §4.5: select-or-create-or-wait,
// acquire, drive, finalize.
func (co *Coordinator) Scrape(ctx context.Context, req ScrapeRequest) (ScrapeResult, error) {
	if err := co.registry.requireStarted(); err != nil {
		return ScrapeResult{}, err
	}

	domain := extractDomain(req.URL)

	// Selection tags: caller tags only. Proxy is deliberately excluded —
	// a caller asking for "residential" is satisfied by any residential
	// context regardless of which residential proxy it currently wears.
	selectionTags := toTagSet(req.Tags)
	// Creation tags: caller tags; the registry auto-adds the proxy tag.
	creationTags := req.Tags

	queueStart := time.Now()
	var queueWait time.Duration

	c := co.registry.selectContext(selectionTags, domain, req.DomainDelayOverride)

	// alreadyAcquired is set once a queued waiter is resolved directly with a
	// freed context (registry.offerToQueue transfers ownership atomically,
	// leaving in_use true) — acquireContext must not be called again for it.
	alreadyAcquired := false

	if c == nil {
		evicted, err := co.registry.evictAndReplace(ctx, creationTags, req.Proxy)
		if err != nil {
			return ScrapeResult{}, newErr(ErrDriverCrash, "browser unavailable", err)
		}
		c = evicted

		if c == nil {
			waiter := co.queue.Enqueue(selectionTags, domain, req.DomainDelayOverride)
			waited, err := waiter.Wait(co.cfg.MaxQueueWait)
			if err != nil {
				co.queue.Dequeue(waiter.ID)
				return ScrapeResult{}, err
			}
			co.queue.Dequeue(waiter.ID)
			c = waited
			queueWait = time.Since(queueStart)
			alreadyAcquired = true
		}
	}

	if !alreadyAcquired {
		acquired, err := co.registry.acquireContext(c.ID)
		if err != nil {
			return ScrapeResult{}, err
		}
		c = acquired
	}

	result, driveErr := co.drive(ctx, c, req, domain)
	if driveErr != nil {
		// The driver connection for this context is gone — it can't be
		// released back to a caller or offered to a queued waiter, so it's
		// torn down here instead of going through finalize's normal release.
		co.registry.removeAcquiredContext(ctx, c.ID)
		return ScrapeResult{}, driveErr
	}
	result.QueueWait = queueWait
	result.ContextID = c.ID

	co.finalize(ctx, c)

	return result, nil
}

// drive runs the DRIVE step of spec §4.5: record the request, navigate,
// optionally fetch content / evaluate a script / take a screenshot, and
// record the outcome against the context for C1/C2's use. A returned error
// means the context itself is dead (driver_crash) — a terminal failure,
// distinct from a recorded-and-surfaced NavigationFailure.
func (co *Coordinator) drive(ctx context.Context, c *Context, req ScrapeRequest, domain string) (ScrapeResult, error) {
	recordRequest(c, domain)

	handle := c.DriverHandle.(*contextHandle)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	navResult, err := co.driver.Navigate(navCtx, handle.page, req.URL, timeout, req.WaitUntil)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) && perr.Kind == ErrDriverCrash {
			return ScrapeResult{}, perr
		}
		recordError(c)
		return ScrapeResult{
			Success: false,
			URL:     req.URL,
			Error:   err.Error(),
		}, nil
	}

	result := ScrapeResult{
		Success: true,
		URL:     navResult.FinalURL,
		Status:  navResult.Status,
	}

	if req.GetContent {
		if content, err := co.driver.Content(ctx, handle.page); err == nil {
			result.Content = content
			result.HasContent = true
		}
	}

	if req.Script != "" {
		result.ScriptResult = co.evaluateWithTimeout(ctx, handle.page, req.Script, timeout)
	}

	if req.Screenshot {
		if shot, err := co.driver.Screenshot(ctx, handle.page, ScreenshotParams{
			FullPage: req.ScreenshotFullPage,
			Format:   "png",
		}); err == nil {
			result.Screenshot = shot
		}
	}

	recordSuccess(c)
	return result, nil
}

// evaluateWithTimeout races the driver's evaluate call against an explicit
// timer realized by the coordinator, not the driver (spec §5). Script
// failures and timeouts never fail the scrape — they only leave
// script_result nil, per the §7 "recover locally" policy.
func (co *Coordinator) evaluateWithTimeout(ctx context.Context, page PageHandle, script string, timeout time.Duration) any {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := co.driver.Evaluate(ctx, page, script, timeout)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil
		}
		return o.value
	case <-time.After(timeout):
		// The driver call is abandoned; its eventual result (if any) is
		// discarded by virtue of nothing ever reading from done again.
		return nil
	}
}

// finalize is spec §4.5's FINALIZE step: always release, and if the
// context has crossed the consecutive-error threshold, mark it retiring
// before releasing it and fire off recreation in the background (Open
// Question, option b).
func (co *Coordinator) finalize(ctx context.Context, c *Context) {
	recreate := shouldRecreate(c.snapshot(), co.cfg.MaxConsecutiveErrors)
	if recreate {
		co.registry.markRetiring(c.ID)
	}

	co.registry.releaseContext(ctx, c.ID)

	if recreate {
		go func() {
			bgCtx := context.Background()
			if _, err := co.registry.recreateContext(bgCtx, c.ID); err != nil {
				// Recreation is best-effort; a failure here leaves the
				// pool one context short until the next eviction cycle
				// notices the gap.
				_ = err
			}
		}()
	}
}

func toTagSet(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}
