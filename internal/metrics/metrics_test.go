package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestScanDurationRecordsObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(ScanDuration)
	sampleCount := func() uint64 {
		mfs, err := reg.Gather()
		if err != nil || len(mfs) != 1 {
			t.Fatalf("gather failed: %v (%d families)", err, len(mfs))
		}
		return mfs[0].GetMetric()[0].GetHistogram().GetSampleCount()
	}

	before := sampleCount()
	ScanDuration.Observe(1.5)
	after := sampleCount()
	if after != before+1 {
		t.Fatalf("expected one new observation, before=%d after=%d", before, after)
	}
}

func TestCatalogSizeGaugeSetsValue(t *testing.T) {
	CatalogSize.Set(42)
	got := testutil.ToFloat64(CatalogSize)
	if got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestStreamRequestsTotalLabelsIndependently(t *testing.T) {
	StreamRequestsTotal.WithLabelValues("full").Inc()
	StreamRequestsTotal.WithLabelValues("range").Inc()
	StreamRequestsTotal.WithLabelValues("range").Inc()

	if got := testutil.ToFloat64(StreamRequestsTotal.WithLabelValues("range")); got != 2 {
		t.Fatalf("expected range=2, got %v", got)
	}
}
