package pool

import (
	"context"
	"testing"
	"time"
)

// fakeDriver is a minimal in-package Driver stub for registry tests that
// need direct access to unexported registry methods (pooltest.MockDriver
// lives in a separate package to avoid an import cycle with pool itself).
type fakeDriver struct {
	contextErr error
	seq        int
}

func (f *fakeDriver) LaunchBrowser(context.Context, bool, int) (BrowserHandle, error) { return "browser", nil }
func (f *fakeDriver) CloseBrowser(context.Context, BrowserHandle) error               { return nil }
func (f *fakeDriver) NewContext(context.Context, BrowserHandle, NewContextParams) (DriverHandle, error) {
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	f.seq++
	return f.seq, nil
}
func (f *fakeDriver) CloseContext(context.Context, DriverHandle) error { return nil }
func (f *fakeDriver) NewPage(context.Context, DriverHandle) (PageHandle, error) { return "page", nil }
func (f *fakeDriver) Navigate(context.Context, PageHandle, string, time.Duration, WaitUntil) (NavigateResult, error) {
	return NavigateResult{OK: true, Status: 200}, nil
}
func (f *fakeDriver) Content(context.Context, PageHandle) (string, error) { return "", nil }
func (f *fakeDriver) Evaluate(context.Context, PageHandle, string, time.Duration) (any, error) {
	return nil, nil
}
func (f *fakeDriver) Screenshot(context.Context, PageHandle, ScreenshotParams) ([]byte, error) {
	return nil, nil
}
func (f *fakeDriver) StorageState(context.Context, DriverHandle) ([]byte, error) { return []byte("{}"), nil }
func (f *fakeDriver) CDPTargetURL(context.Context, DriverHandle, PageHandle) (string, error) {
	return "", nil
}

func newTestRegistry(cfg Config) *ContextRegistry {
	r := newContextRegistry(cfg, &fakeDriver{})
	r.setStarted("browser")
	return r
}

func TestCreateContext_FailsWhenNotStarted(t *testing.T) {
	r := newContextRegistry(DefaultConfig(), &fakeDriver{})
	_, err := r.createContext(context.Background(), "", false, nil)
	var poolErr *Error
	if err == nil {
		t.Fatal("expected PoolNotStarted error")
	}
	if !asError(err, &poolErr) || poolErr.Kind != ErrPoolNotStarted {
		t.Fatalf("expected ErrPoolNotStarted, got %v", err)
	}
}

func TestCreateContext_ProxyTagInvariant(t *testing.T) {
	cfg := DefaultConfig()
	r := newTestRegistry(cfg)

	c, err := r.createContext(context.Background(), "http://proxy.example", false, []string{"residential"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.hasTags(map[string]struct{}{"proxy:http://proxy.example": {}}) {
		t.Error("invariant 3 violated: proxy tag not present")
	}
	if !c.hasTags(map[string]struct{}{"residential": {}}) {
		t.Error("caller-supplied creation tag missing")
	}
}

func TestCreateContext_RespectsMaxContexts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContexts = 1
	r := newTestRegistry(cfg)

	if _, err := r.createContext(context.Background(), "", false, nil); err != nil {
		t.Fatalf("first create should succeed: %v", err)
	}
	if _, err := r.createContext(context.Background(), "", false, nil); err == nil {
		t.Error("expected failure when pool already at max_contexts")
	}
	if r.Size() != 1 {
		t.Errorf("size = %d, want 1 (invariant 5)", r.Size())
	}
}

func TestAcquireContext_SecondAcquireFails(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	c, _ := r.createContext(context.Background(), "", false, nil)

	if _, err := r.acquireContext(c.ID); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	_, err := r.acquireContext(c.ID)
	var poolErr *Error
	if !asError(err, &poolErr) || poolErr.Kind != ErrContextNotAvail {
		t.Fatalf("expected ErrContextNotAvailable on second acquire, got %v", err)
	}
}

func TestRemoveContext_InUseFails(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	c, _ := r.createContext(context.Background(), "", false, nil)
	r.acquireContext(c.ID)

	_, err := r.removeContext(context.Background(), c.ID)
	var poolErr *Error
	if !asError(err, &poolErr) || poolErr.Kind != ErrContextInUse {
		t.Fatalf("expected ErrContextInUse, got %v", err)
	}
}

func TestRemoveContext_GoneAfterRemoval(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	c, _ := r.createContext(context.Background(), "", false, nil)

	ok, err := r.removeContext(context.Background(), c.ID)
	if err != nil || !ok {
		t.Fatalf("remove should succeed, got ok=%v err=%v", ok, err)
	}
	if _, found := r.getContext(c.ID); found {
		t.Error("context must be gone after remove_context (property 6)")
	}
}

func TestAddRemoveTags_RoundTrip(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	c, _ := r.createContext(context.Background(), "", false, []string{"base"})

	before := c.snapshot().Tags

	r.addTags(c.ID, []string{"temp-a", "temp-b"})
	r.removeTags(c.ID, []string{"temp-a", "temp-b"})

	after := c.snapshot().Tags
	if !sameSet(before, after) {
		t.Errorf("add_tags;remove_tags round trip changed tag set: before=%v after=%v", before, after)
	}
}

func TestSelectContext_SkipsRateLimited(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	c, _ := r.createContext(context.Background(), "", false, nil)
	recordRequest(c, "example.com")

	got := r.selectContext(nil, "example.com", 0)
	if got != nil {
		t.Error("select_context must return nil when the only candidate fails the rate-limit check")
	}
}

func TestSelectContext_RequiresTagSuperset(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	r.createContext(context.Background(), "", false, []string{"basic"})
	premium, _ := r.createContext(context.Background(), "", false, []string{"premium"})

	got := r.selectContext(map[string]struct{}{"premium": {}}, "", 0)
	if got == nil || got.ID != premium.ID {
		t.Fatalf("expected the premium-tagged context to be selected, got %v", got)
	}
}

func TestEvictAndReplace_StaysAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContexts = 2
	r := newTestRegistry(cfg)
	r.createContext(context.Background(), "", false, []string{"basic"})
	r.createContext(context.Background(), "", false, []string{"basic"})

	if r.Size() != 2 {
		t.Fatalf("setup: expected size 2, got %d", r.Size())
	}

	c, err := r.evictAndReplace(context.Background(), []string{"residential"}, "http://p")
	if err != nil || c == nil {
		t.Fatalf("expected eviction to produce a new context, got %v err=%v", c, err)
	}
	if r.Size() != 2 {
		t.Errorf("size after evict_and_replace = %d, want 2 (invariant 5/property 7)", r.Size())
	}
	if !c.hasTags(map[string]struct{}{"residential": {}, "proxy:http://p": {}}) {
		t.Error("new context must carry the requested tags plus the proxy tag")
	}
}

func TestRecreateContext_PreservesProxyAndTags(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	c, _ := r.createContext(context.Background(), "http://p", false, []string{"residential"})
	oldID := c.ID

	recreated, err := r.recreateContext(context.Background(), oldID)
	if err != nil {
		t.Fatalf("recreate_context failed: %v", err)
	}
	if recreated.ID == oldID {
		t.Error("recreated context must have a new id")
	}
	if _, found := r.getContext(oldID); found {
		t.Error("old context must be gone after recreation")
	}
	if !recreated.hasTags(map[string]struct{}{"residential": {}, "proxy:http://p": {}}) {
		t.Error("recreated context must preserve tags and re-add the proxy tag")
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
