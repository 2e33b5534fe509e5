package pool

import (
	"context"
	"time"
)

// WaitUntil names the navigation completion condition the caller asked for.
type WaitUntil string

const (
	WaitLoad              WaitUntil = "load"
	WaitDOMContentLoaded  WaitUntil = "domcontentloaded"
	WaitNetworkIdle       WaitUntil = "networkidle"
	WaitCommit            WaitUntil = "commit"
)

// NewContextParams is what the registry hands to the driver when opening a
// fresh isolated context.
type NewContextParams struct {
	Proxy        string
	StorageState []byte // nil unless a persistent-context checkpoint exists
}

// NavigateResult is the driver's report of one navigation.
type NavigateResult struct {
	FinalURL string
	Status   int
	OK       bool
}

// ScreenshotParams controls the driver's screenshot capture.
type ScreenshotParams struct {
	FullPage bool
	Format   string // "png" or "jpeg"
	Quality  int    // jpeg only; 0 means driver default
}

// Driver is the minimum capability set the core consumes from the browser
// layer (spec §4.6). The core never knows about CDP, rod, or any other
// concrete transport — it only calls this interface, and only outside any
// registry-held lock (see the concurrency model in spec §5).
type Driver interface {
	LaunchBrowser(ctx context.Context, headless bool, cdpPort int) (BrowserHandle, error)
	CloseBrowser(ctx context.Context, h BrowserHandle) error

	NewContext(ctx context.Context, h BrowserHandle, params NewContextParams) (DriverHandle, error)
	CloseContext(ctx context.Context, handle DriverHandle) error

	NewPage(ctx context.Context, handle DriverHandle) (PageHandle, error)

	Navigate(ctx context.Context, page PageHandle, url string, timeout time.Duration, waitUntil WaitUntil) (NavigateResult, error)
	Content(ctx context.Context, page PageHandle) (string, error)
	Evaluate(ctx context.Context, page PageHandle, script string, timeout time.Duration) (any, error)
	Screenshot(ctx context.Context, page PageHandle, params ScreenshotParams) ([]byte, error)
	StorageState(ctx context.Context, handle DriverHandle) ([]byte, error)
	CDPTargetURL(ctx context.Context, handle DriverHandle, page PageHandle) (string, error)
}

// BrowserHandle is the opaque capability referring to the one shared
// browser process the supervisor owns.
type BrowserHandle interface{}

// PageHandle is the opaque capability referring to a context's default
// page. One per context is sufficient for the core (spec §4.6).
type PageHandle interface{}
