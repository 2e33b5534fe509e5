package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Supervisor owns one browser process for the lifetime of the registry
// (C7). Start and Stop are idempotent; a failed start tears itself down
// before propagating the error so there is no observable half-started
// state.
type Supervisor struct {
	cfg        Config
	browserCfg BrowserConfig
	driver     Driver

	registry *ContextRegistry
	queue    *RequestQueue
	coord    *Coordinator

	mu       sync.Mutex
	display  *virtualDisplay
	sweepEnd chan struct{}
}

// BrowserConfig controls the supervisor's browser process and the virtual
// display that may host it (spec §6 configuration keys).
type BrowserConfig struct {
	Headless            bool
	CDPPort             int
	UseVirtualDisplay   bool
	VirtualDisplaySize  [2]int
}

// New constructs a Supervisor wired to driver. Per the design notes this is
// meant to be built once in the application bootstrap and passed to every
// consumer explicitly (dependency injection), never stashed in a package
// global.
func New(cfg Config, browserCfg BrowserConfig, driver Driver) *Supervisor {
	registry := newContextRegistry(cfg, driver)
	queue := newRequestQueue()
	registry.SetQueue(queue)
	coord := newCoordinator(registry, queue, driver, cfg)
	return &Supervisor{
		cfg:        cfg,
		browserCfg: browserCfg,
		driver:     driver,
		registry:   registry,
		queue:      queue,
		coord:      coord,
	}
}

// Coordinator returns the scrape coordinator backed by this supervisor's
// registry and driver.
func (s *Supervisor) Coordinator() *Coordinator { return s.coord }

// Registry exposes the context registry for the control-surface operations
// (create/list/tag edit/acquire/release/remove) that sit outside a scrape.
func (s *Supervisor) Registry() *ContextRegistry { return s.registry }

// Queue exposes the request queue, whose Len the pool state projection and
// metrics read. The expiry sweep runs inside the supervisor itself.
func (s *Supervisor) Queue() *RequestQueue { return s.queue }

// CDPEndpoint returns the stable WebSocket URL addressing the shared
// browser process (spec.md §6 "Pool state projection").
func (s *Supervisor) CDPEndpoint() string {
	return fmt.Sprintf("ws://127.0.0.1:%d", s.browserCfg.CDPPort)
}

// Start boots the virtual display (if configured and not headless) and
// launches the browser. Idempotent.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.started.Load() {
		return nil
	}

	if s.browserCfg.UseVirtualDisplay && !s.browserCfg.Headless {
		disp, err := startVirtualDisplay(s.browserCfg.VirtualDisplaySize)
		if err != nil {
			return newErr(ErrDriverCrash, "failed to start virtual display", err)
		}
		s.display = disp
	}

	browser, err := s.driver.LaunchBrowser(ctx, s.browserCfg.Headless, s.browserCfg.CDPPort)
	if err != nil {
		s.teardownLocked(ctx)
		return newErr(ErrDriverCrash, "failed to launch browser", err)
	}

	s.registry.setStarted(browser)
	s.sweepEnd = make(chan struct{})
	go s.sweepExpiredQueue(s.sweepEnd)

	slog.Info("pool started", "headless", s.browserCfg.Headless, "cdp_port", s.browserCfg.CDPPort)
	return nil
}

// sweepExpiredQueue periodically rejects timed-out waiters (spec §5
// "a background sweep ... resolves them as timeouts"), independent of
// any coordinator's own wait-with-timeout.
func (s *Supervisor) sweepExpiredQueue(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.queue.CleanupExpired(s.cfg.MaxQueueWait); n > 0 {
				slog.Debug("expired queued requests", "count", n)
			}
		case <-stop:
			return
		}
	}
}

// Stop closes every context, the browser, and the virtual display, in that
// order, ignoring individual errors. Idempotent.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registry.started.Load() {
		return
	}
	s.teardownLocked(ctx)
	slog.Info("pool stopped")
}

func (s *Supervisor) teardownLocked(ctx context.Context) {
	if s.sweepEnd != nil {
		close(s.sweepEnd)
		s.sweepEnd = nil
	}
	s.registry.closeAll(ctx)
	if s.registry.browser != nil {
		if err := s.driver.CloseBrowser(ctx, s.registry.browser); err != nil {
			slog.Debug("error closing browser during teardown", "error", err)
		}
	}
	s.registry.setStopped()
	if s.display != nil {
		s.display.stop()
		s.display = nil
	}
}

// virtualDisplay wraps an Xvfb subprocess. No pack library wraps this
// concern (the original reaches for pyvirtualdisplay, which has no Go
// analogue in the corpus), so this is the one ambient piece implemented
// directly against os/exec.
type virtualDisplay struct {
	cmd *exec.Cmd
}

func startVirtualDisplay(size [2]int) (*virtualDisplay, error) {
	screen := fmt.Sprintf("%dx%dx24", size[0], size[1])
	cmd := exec.Command("Xvfb", ":99", "-screen", "0", screen)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &virtualDisplay{cmd: cmd}, nil
}

func (d *virtualDisplay) stop() {
	if d.cmd == nil || d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
}
