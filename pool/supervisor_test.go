package pool_test

import (
	"context"
	"testing"

	"github.com/use-agent/contextpool/pool"
	"github.com/use-agent/contextpool/pool/pooltest"
)

func TestSupervisor_StartIdempotent(t *testing.T) {
	sup := pool.New(pool.DefaultConfig(), pool.BrowserConfig{Headless: true, CDPPort: 9222}, pooltest.New())
	ctx := context.Background()

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("second start must be a no-op, got: %v", err)
	}
	sup.Stop(ctx)
}

func TestSupervisor_StopIdempotent(t *testing.T) {
	sup := pool.New(pool.DefaultConfig(), pool.BrowserConfig{Headless: true, CDPPort: 9222}, pooltest.New())
	ctx := context.Background()

	sup.Start(ctx)
	sup.Stop(ctx)
	sup.Stop(ctx) // must not panic or double-close
}

func TestSupervisor_ScrapeBeforeStartFails(t *testing.T) {
	sup := pool.New(pool.DefaultConfig(), pool.BrowserConfig{Headless: true, CDPPort: 9222}, pooltest.New())

	_, err := sup.Coordinator().Scrape(context.Background(), pool.ScrapeRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected PoolNotStarted before Start is called")
	}
}
