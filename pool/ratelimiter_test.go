package pool

import (
	"testing"
	"time"
)

func TestCanRequest_NoPriorRequest(t *testing.T) {
	c := newContext("c1", "", false, nil, nil, "")
	if !canRequest(c, "example.com", 0, time.Second) {
		t.Error("expected true when no prior request recorded for domain")
	}
}

func TestCanRequest_BoundaryAtExactDelay(t *testing.T) {
	c := newContext("c1", "", false, nil, nil, "")
	c.domainLastRequest["example.com"] = time.Now().Add(-1 * time.Second)
	if !canRequest(c, "example.com", 0, time.Second) {
		t.Error("elapsed time exactly equal to the delay must be allowed")
	}
}

func TestCanRequest_TooSoon(t *testing.T) {
	c := newContext("c1", "", false, nil, nil, "")
	c.domainLastRequest["example.com"] = time.Now()
	if canRequest(c, "example.com", 0, time.Second) {
		t.Error("expected false immediately after a recorded request")
	}
}

func TestCanRequest_OverrideDelay(t *testing.T) {
	c := newContext("c1", "", false, nil, nil, "")
	c.domainLastRequest["example.com"] = time.Now().Add(-500 * time.Millisecond)
	if canRequest(c, "example.com", 2*time.Second, time.Second) {
		t.Error("override delay should take precedence over the default")
	}
	if !canRequest(c, "example.com", 100*time.Millisecond, time.Second) {
		t.Error("a shorter override delay should already have elapsed")
	}
}

func TestRecordRequestUpdatesCounters(t *testing.T) {
	c := newContext("c1", "", false, nil, nil, "")
	recordRequest(c, "example.com")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalRequests != 1 {
		t.Errorf("totalRequests = %d, want 1", c.totalRequests)
	}
	if c.lastUsedAt.IsZero() {
		t.Error("lastUsedAt should be set after record_request")
	}
	if _, ok := c.domainLastRequest["example.com"]; !ok {
		t.Error("domain_last_request should be populated")
	}
}

func TestRecordErrorAndSuccess(t *testing.T) {
	c := newContext("c1", "", false, nil, nil, "")
	recordError(c)
	recordError(c)

	snap := c.snapshot()
	if snap.ErrorCount != 2 || snap.ConsecutiveErrors != 2 {
		t.Fatalf("got error_count=%d consecutive_errors=%d, want 2 and 2", snap.ErrorCount, snap.ConsecutiveErrors)
	}

	recordSuccess(c)
	snap = c.snapshot()
	if snap.ConsecutiveErrors != 0 {
		t.Errorf("consecutive_errors after record_success = %d, want 0", snap.ConsecutiveErrors)
	}
	if snap.ErrorCount != 2 {
		t.Errorf("record_success must not reset error_count, got %d", snap.ErrorCount)
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.Example.com/path", "www.example.com"},
		{"http://example.com:8080/x", "example.com:8080"},
		{"https://EXAMPLE.COM", "example.com"},
	}
	for _, tt := range tests {
		if got := extractDomain(tt.url); got != tt.want {
			t.Errorf("extractDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
