// Package pooltest provides a recording, configurable Driver for exercising
// pool/ without a real browser, satisfying spec §8's requirement that every
// scenario be reproducible against a mock.
package pooltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/contextpool/pool"
)

// Call records one invocation made against the mock driver.
type Call struct {
	Method string
	Args   []any
}

// MockDriver implements pool.Driver, recording every call and returning
// canned responses configured by the test.
type MockDriver struct {
	mu    sync.Mutex
	calls []Call
	seq   int

	// NavigateFunc, if set, overrides the default canned NavigateResult.
	NavigateFunc func(url string) (pool.NavigateResult, error)
	// EvaluateFunc, if set, overrides the default canned evaluate result.
	EvaluateFunc func(script string) (any, error)
	// NewContextErr, if set, makes every NewContext call fail — used to
	// simulate a driver crash on context creation (DriverCrash kind).
	NewContextErr error
	// ContentResult is returned by Content unless empty.
	ContentResult string
}

func New() *MockDriver { return &MockDriver{} }

func (m *MockDriver) record(method string, args ...any) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
	m.mu.Unlock()
}

// Calls returns a snapshot of every recorded call, in order.
func (m *MockDriver) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

type fakeBrowser struct{}
type fakeContext struct{ id string }
type fakePage struct{ id string }

func (m *MockDriver) LaunchBrowser(_ context.Context, headless bool, cdpPort int) (pool.BrowserHandle, error) {
	m.record("LaunchBrowser", headless, cdpPort)
	return &fakeBrowser{}, nil
}

func (m *MockDriver) CloseBrowser(_ context.Context, _ pool.BrowserHandle) error {
	m.record("CloseBrowser")
	return nil
}

func (m *MockDriver) NewContext(_ context.Context, _ pool.BrowserHandle, params pool.NewContextParams) (pool.DriverHandle, error) {
	m.record("NewContext", params.Proxy)
	if m.NewContextErr != nil {
		return nil, m.NewContextErr
	}
	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("mock-ctx-%d", m.seq)
	m.mu.Unlock()
	return &fakeContext{id: id}, nil
}

func (m *MockDriver) CloseContext(_ context.Context, handle pool.DriverHandle) error {
	m.record("CloseContext", handle)
	return nil
}

func (m *MockDriver) NewPage(_ context.Context, handle pool.DriverHandle) (pool.PageHandle, error) {
	m.record("NewPage", handle)
	c, _ := handle.(*fakeContext)
	id := "mock-page"
	if c != nil {
		id = c.id + "-page"
	}
	return &fakePage{id: id}, nil
}

func (m *MockDriver) Navigate(_ context.Context, _ pool.PageHandle, url string, _ time.Duration, _ pool.WaitUntil) (pool.NavigateResult, error) {
	m.record("Navigate", url)
	if m.NavigateFunc != nil {
		return m.NavigateFunc(url)
	}
	return pool.NavigateResult{FinalURL: url, Status: 200, OK: true}, nil
}

func (m *MockDriver) Content(_ context.Context, _ pool.PageHandle) (string, error) {
	m.record("Content")
	if m.ContentResult != "" {
		return m.ContentResult, nil
	}
	return "<html></html>", nil
}

func (m *MockDriver) Evaluate(_ context.Context, _ pool.PageHandle, script string, _ time.Duration) (any, error) {
	m.record("Evaluate", script)
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(script)
	}
	return nil, nil
}

func (m *MockDriver) Screenshot(_ context.Context, _ pool.PageHandle, _ pool.ScreenshotParams) ([]byte, error) {
	m.record("Screenshot")
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (m *MockDriver) StorageState(_ context.Context, _ pool.DriverHandle) ([]byte, error) {
	m.record("StorageState")
	return []byte(`{}`), nil
}

func (m *MockDriver) CDPTargetURL(_ context.Context, _ pool.DriverHandle, _ pool.PageHandle) (string, error) {
	m.record("CDPTargetURL")
	return "ws://127.0.0.1:9222/devtools/page/mock", nil
}
