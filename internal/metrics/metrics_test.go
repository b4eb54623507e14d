package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordIndex(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordIndex("success", 10, 3, time.Second)
	m.RecordIndex("error", 4, 0, time.Second)

	if got := testutil.ToFloat64(m.IndexRunsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.IndexedMessagesTotal); got != 14 {
		t.Errorf("messages = %v, want 14", got)
	}
	if got := testutil.ToFloat64(m.IndexedChunksTotal); got != 3 {
		t.Errorf("chunks = %v, want 3", got)
	}
}

func TestRecordQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordQuery("vector")
	m.RecordQuery("fallback")
	m.RecordQuery("fallback")

	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("fallback")); got != 2 {
		t.Errorf("fallback queries = %v, want 2", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordIndex("success", 1, 1, time.Millisecond)
	m.RecordQuery("vector")
	m.ObserveEmbed(time.Millisecond)
	m.UnitStarted()
	m.UnitLost()
	m.SetPending(2)
	m.RecordToneGuide("success")
	m.RecordTool("none")
}
