package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordScrape_IncrementsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordScrape(true, 0.5, 0.1)
	c.RecordScrape(false, 0.2, 0)

	success, err := c.ScrapesTotal.GetMetricWithLabelValues("success")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, success); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}

	failure, err := c.ScrapesTotal.GetMetricWithLabelValues("failure")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, failure); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestEviction_SatisfiesPoolEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Eviction()
	c.Eviction()
	c.Recreation()

	if got := counterValue(t, c.Evictions); got != 2 {
		t.Fatalf("expected 2 evictions, got %v", got)
	}
	if got := counterValue(t, c.Recreations); got != 1 {
		t.Fatalf("expected 1 recreation, got %v", got)
	}
}

func TestSetPoolState_UpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetPoolState(5, 3, 2)

	m := &dto.Metric{}
	if err := c.PoolSize.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 5 {
		t.Fatalf("expected pool size 5, got %v", got)
	}
}
