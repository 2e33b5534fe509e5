// Package driver is the concrete C6 implementation of pool.Driver over a
// single shared go-rod browser process. Every isolated pool.Context maps
// to one CDP browser context (proto.TargetCreateBrowserContext) holding a
// single default page, matching "one per context is sufficient for the
// core" (spec §4.6).
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/contextpool/pool"
)

// RodDriver drives one shared browser process. It carries no mutable
// per-context state of its own — all of that lives in pool.Context,
// guarded by the registry — so a RodDriver value is safe to share across
// every context the registry creates.
type RodDriver struct {
	// BrowserBin and NoSandbox are browser launch options.
	BrowserBin   string
	NoSandbox    bool
	BlockedTypes []string // resource types hijacked away, e.g. "Image", "Font"
}

// browserHandle wraps the launched *rod.Browser.
type browserHandle struct {
	browser *rod.Browser
}

// rodContextHandle wraps one CDP browser context id plus the convenience
// *rod.Browser bound to it, so CloseContext can tear down precisely that
// context without touching any other.
type rodContextHandle struct {
	browser   *rod.Browser
	contextID proto.TargetBrowserContextID
}

// rodPageHandle wraps the single default page opened for a context.
type rodPageHandle struct {
	page *rod.Page
}

func New(browserBin string, noSandbox bool, blockedTypes []string) *RodDriver {
	return &RodDriver{BrowserBin: browserBin, NoSandbox: noSandbox, BlockedTypes: blockedTypes}
}

// LaunchBrowser starts a single browser process with a fixed debugging
// port, carrying the teacher's stealth-friendly launch flags.
func (d *RodDriver) LaunchBrowser(_ context.Context, headless bool, cdpPort int) (pool.BrowserHandle, error) {
	l := launcher.New().
		Headless(headless).
		NoSandbox(d.NoSandbox)

	if d.BrowserBin != "" {
		l = l.Bin(d.BrowserBin)
	}
	if cdpPort > 0 {
		l = l.Set(flags.Flag("remote-debugging-port"), strconv.Itoa(cdpPort))
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return &browserHandle{browser: browser}, nil
}

func (d *RodDriver) CloseBrowser(_ context.Context, h pool.BrowserHandle) error {
	bh, ok := h.(*browserHandle)
	if !ok || bh.browser == nil {
		return nil
	}
	bh.browser.MustClose()
	return nil
}

// NewContext opens an isolated CDP browser context — cookies, cache, and
// storage are separate from every other context in the same browser
// process — optionally bound to a proxy, and restores storage_state if a
// persistent checkpoint was supplied.
func (d *RodDriver) NewContext(_ context.Context, h pool.BrowserHandle, params pool.NewContextParams) (pool.DriverHandle, error) {
	bh, ok := h.(*browserHandle)
	if !ok {
		return nil, errors.New("driver: invalid browser handle")
	}

	createReq := proto.TargetCreateBrowserContext{}
	if params.Proxy != "" {
		createReq.ProxyServer = params.Proxy
	}

	res, err := createReq.Call(bh.browser)
	if err != nil {
		return nil, err
	}

	scoped := bh.browser.Context(context.Background())
	scoped.SetBrowserContextID(res.BrowserContextID)

	handle := &rodContextHandle{browser: scoped, contextID: res.BrowserContextID}

	if len(params.StorageState) > 0 {
		var cookies []*proto.NetworkCookie
		if err := json.Unmarshal(params.StorageState, &cookies); err == nil {
			restored := make([]*proto.NetworkCookieParam, 0, len(cookies))
			for _, c := range cookies {
				restored = append(restored, &proto.NetworkCookieParam{
					Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
				})
			}
			_ = proto.NetworkSetCookies{Cookies: restored}.Call(scoped)
		}
	}

	return handle, nil
}

func (d *RodDriver) CloseContext(_ context.Context, h pool.DriverHandle) error {
	rh, ok := h.(*rodContextHandle)
	if !ok {
		return nil
	}
	_ = proto.TargetDisposeBrowserContext{BrowserContextID: rh.contextID}.Call(rh.browser)
	return nil
}

func (d *RodDriver) NewPage(_ context.Context, h pool.DriverHandle) (pool.PageHandle, error) {
	rh, ok := h.(*rodContextHandle)
	if !ok {
		return nil, errors.New("driver: invalid context handle")
	}
	page, err := rh.browser.Page(proto.TargetCreateTarget{BrowserContextID: rh.contextID})
	if err != nil {
		return nil, err
	}

	if len(d.BlockedTypes) > 0 {
		setupHijack(page, d.BlockedTypes)
	}

	return &rodPageHandle{page: page}, nil
}

func (d *RodDriver) Navigate(ctx context.Context, h pool.PageHandle, rawURL string, timeout time.Duration, waitUntil pool.WaitUntil) (pool.NavigateResult, error) {
	ph, ok := h.(*rodPageHandle)
	if !ok {
		return pool.NavigateResult{}, errors.New("driver: invalid page handle")
	}

	p := ph.page.Context(ctx)

	if err := p.Navigate(rawURL); err != nil {
		return pool.NavigateResult{}, classify(err, "navigate")
	}

	switch waitUntil {
	case pool.WaitNetworkIdle:
		wait := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		wait()
	default:
		// WaitRequestIdle's Fetch-domain listener conflicts with hijack
		// routers on newer Chromium; fall back to DOM stability for every
		// other requested condition (load/domcontentloaded/commit).
		_ = p.WaitDOMStable(300*time.Millisecond, 0.1)
	}

	status := 0
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`); err == nil {
		status = res.Value.Int()
	}

	finalURL := rawURL
	if res, err := p.Eval(`() => window.location.href`); err == nil {
		finalURL = res.Value.Str()
	}

	return pool.NavigateResult{FinalURL: finalURL, Status: status, OK: true}, nil
}

func (d *RodDriver) Content(ctx context.Context, h pool.PageHandle) (string, error) {
	ph, ok := h.(*rodPageHandle)
	if !ok {
		return "", errors.New("driver: invalid page handle")
	}
	content, err := ph.page.Context(ctx).HTML()
	if err != nil {
		return "", classify(err, "content")
	}
	return content, nil
}

func (d *RodDriver) Evaluate(ctx context.Context, h pool.PageHandle, script string, _ time.Duration) (any, error) {
	ph, ok := h.(*rodPageHandle)
	if !ok {
		return nil, errors.New("driver: invalid page handle")
	}
	res, err := ph.page.Context(ctx).Eval(script)
	if err != nil {
		return nil, classify(err, "evaluate")
	}
	var v any
	if err := json.Unmarshal(res.Value.Raw, &v); err != nil {
		return res.Value.Str(), nil
	}
	return v, nil
}

func (d *RodDriver) Screenshot(ctx context.Context, h pool.PageHandle, params pool.ScreenshotParams) ([]byte, error) {
	ph, ok := h.(*rodPageHandle)
	if !ok {
		return nil, errors.New("driver: invalid page handle")
	}
	format := proto.PageCaptureScreenshotFormatPng
	if params.Format == "jpeg" {
		format = proto.PageCaptureScreenshotFormatJpeg
	}
	return ph.page.Context(ctx).Screenshot(params.FullPage, &rod.ScreenshotOptions{
		Format:  format,
		Quality: intPtr(params.Quality),
	})
}

func (d *RodDriver) StorageState(ctx context.Context, h pool.DriverHandle) ([]byte, error) {
	rh, ok := h.(*rodContextHandle)
	if !ok {
		return nil, errors.New("driver: invalid context handle")
	}
	cookies, err := proto.NetworkGetCookies{}.Call(rh.browser)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cookies.Cookies)
}

func (d *RodDriver) CDPTargetURL(_ context.Context, _ pool.DriverHandle, h pool.PageHandle) (string, error) {
	ph, ok := h.(*rodPageHandle)
	if !ok {
		return "", nil
	}
	info, err := proto.TargetGetTargetInfo{TargetID: ph.page.TargetID}.Call(ph.page)
	if err != nil {
		// Best-effort; spec §4.4 says failure never aborts creation.
		return "", nil
	}
	return info.TargetInfo.URL, nil
}

// InjectStealth applies go-rod/stealth's anti-detection script to a page,
// taking effect from its next navigation. Nothing in this package or in
// the registry calls it: contexts and pages are created without stealth
// injection, and no creation tag enables it.
func InjectStealth(h pool.PageHandle) {
	ph, ok := h.(*rodPageHandle)
	if !ok {
		return
	}
	if _, err := ph.page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without it", "error", err)
	}
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
