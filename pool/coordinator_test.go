package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/use-agent/contextpool/pool"
	"github.com/use-agent/contextpool/pool/pooltest"
)

func newStartedSupervisor(t *testing.T, cfg pool.Config, driver pool.Driver) *pool.Supervisor {
	t.Helper()
	sup := pool.New(cfg, pool.BrowserConfig{Headless: true, CDPPort: 9222}, driver)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { sup.Stop(context.Background()) })
	return sup
}

// S1: empty pool creates a context on first scrape, with zero queue wait.
func TestScrape_S1_EmptyPoolCreatesContext(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 2
	sup := newStartedSupervisor(t, cfg, pooltest.New())

	result, err := sup.Coordinator().Scrape(context.Background(), pool.ScrapeRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if !result.Success || sup.Registry().Size() != 1 || result.QueueWait != 0 {
		t.Fatalf("unexpected result: %+v size=%d", result, sup.Registry().Size())
	}
}

// S2: a tag-specific request must pick the matching context and leave the other untouched.
func TestScrape_S2_TagSelectionIsExact(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 2
	sup := newStartedSupervisor(t, cfg, pooltest.New())
	ctx := context.Background()

	premium, err := sup.Registry().CreateContext(ctx, "", false, []string{"premium"})
	if err != nil {
		t.Fatal(err)
	}
	basic, err := sup.Registry().CreateContext(ctx, "", false, []string{"basic"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := sup.Coordinator().Scrape(ctx, pool.ScrapeRequest{URL: "https://example.com", Tags: []string{"premium"}})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if result.ContextID != premium.ID {
		t.Errorf("expected the premium context to serve the request, got %s", result.ContextID)
	}
	if snap := basic.Snapshot(); snap.TotalRequests != 0 {
		t.Error("the basic context must be untouched")
	}
}

// S3: pool at capacity, a proxy+tag request evicts a candidate and creates a replacement.
func TestScrape_S3_EvictionAtCapacity(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 2
	sup := newStartedSupervisor(t, cfg, pooltest.New())
	ctx := context.Background()

	sup.Registry().CreateContext(ctx, "", false, []string{"basic"})
	sup.Registry().CreateContext(ctx, "", false, []string{"basic"})

	result, err := sup.Coordinator().Scrape(ctx, pool.ScrapeRequest{
		URL:   "https://example.com",
		Tags:  []string{"residential"},
		Proxy: "http://p",
	})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if sup.Registry().Size() != 2 {
		t.Errorf("size after eviction = %d, want 2", sup.Registry().Size())
	}
	c, ok := sup.Registry().GetContext(result.ContextID)
	if !ok {
		t.Fatal("served context must exist in the registry")
	}
	snap := c.Snapshot()
	if !hasAll(snap.Tags, "residential", "proxy:http://p") {
		t.Errorf("expected new context tags to be a superset of {residential, proxy:http://p}, got %v", snap.Tags)
	}
}

// S4: pool saturated, in-use; a request queues and resumes on release.
func TestScrape_S4_QueuesAndResumesOnRelease(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 1
	cfg.MaxQueueWait = 2 * time.Second
	sup := newStartedSupervisor(t, cfg, pooltest.New())
	ctx := context.Background()

	c, err := sup.Registry().CreateContext(ctx, "", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sup.Registry().AcquireContext(c.ID); err != nil {
		t.Fatal(err)
	}

	resultCh := make(chan pool.ScrapeResult, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := sup.Coordinator().Scrape(ctx, pool.ScrapeRequest{URL: "https://example.com"})
		resultCh <- r
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	sup.Registry().ReleaseContext(ctx, c.ID)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("queued scrape failed: %v", err)
		}
		result := <-resultCh
		if result.QueueWait <= 0 {
			t.Error("queue_wait_ms should be > 0 for a request that waited")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued scrape never resolved")
	}
}

// S5: no release within max_queue_wait; the request times out and leaves no orphaned slot.
func TestScrape_S5_QueueTimeout(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 1
	cfg.MaxQueueWait = 50 * time.Millisecond
	sup := newStartedSupervisor(t, cfg, pooltest.New())
	ctx := context.Background()

	c, _ := sup.Registry().CreateContext(ctx, "", false, nil)
	sup.Registry().AcquireContext(c.ID)

	_, err := sup.Coordinator().Scrape(ctx, pool.ScrapeRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected a QueueTimeout error")
	}
	var perr *pool.Error
	if !errors.As(err, &perr) || perr.Kind != pool.ErrQueueTimeout {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}
	if sup.Queue().Len() != 0 {
		t.Error("no orphaned completion slot should remain after a timeout")
	}
}

// S6: a context crossing the consecutive-error threshold is recreated in the background.
func TestScrape_S6_RecreationAfterConsecutiveErrors(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 1
	cfg.MaxConsecutiveErrors = 1
	driver := pooltest.New()
	driver.NavigateFunc = func(string) (pool.NavigateResult, error) {
		return pool.NavigateResult{}, errors.New("navigation failed")
	}
	sup := newStartedSupervisor(t, cfg, driver)
	ctx := context.Background()

	c, _ := sup.Registry().CreateContext(ctx, "", false, []string{"residential"})

	// One failing scrape already drives consecutive_errors to the
	// threshold of 1 set above, since the driver's Navigate always errors.
	result, err := sup.Coordinator().Scrape(ctx, pool.ScrapeRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("scrape should fail softly, not return an error: %v", err)
	}
	if result.Success {
		t.Error("navigation failure must be reflected in the result, not masked")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, found := sup.Registry().GetContext(c.ID); !found && sup.Registry().Size() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected background recreation to replace the failing context")
}

// S7: a driver_crash on navigate is terminal — surfaced as an error and the
// dead context is removed, not recorded as a soft navigation failure.
func TestScrape_S7_DriverCrashRemovesContext(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MaxContexts = 1
	driver := pooltest.New()
	driver.NavigateFunc = func(string) (pool.NavigateResult, error) {
		return pool.NavigateResult{}, pool.NewError(pool.ErrDriverCrash, "target gone", errors.New("no such target"))
	}
	sup := newStartedSupervisor(t, cfg, driver)
	ctx := context.Background()

	c, _ := sup.Registry().CreateContext(ctx, "", false, nil)

	_, err := sup.Coordinator().Scrape(ctx, pool.ScrapeRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected a terminal error for a driver crash")
	}
	var perr *pool.Error
	if !errors.As(err, &perr) || perr.Kind != pool.ErrDriverCrash {
		t.Fatalf("expected ErrDriverCrash, got %v", err)
	}
	if _, found := sup.Registry().GetContext(c.ID); found {
		t.Error("crashed context must be removed from the registry, not left for reuse")
	}
	if sup.Registry().Size() != 0 {
		t.Errorf("size after driver crash = %d, want 0", sup.Registry().Size())
	}
}

func hasAll(tags []string, want ...string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
