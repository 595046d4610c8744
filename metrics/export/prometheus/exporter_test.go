package prometheus

import (
	"testing"

	goSession "github.com/MrEthical07/goSession"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeSource struct {
	snapshot goSession.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goSession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollectorCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLoginSuccess: 7,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	families := gather(t, c)

	login := families["gosession_login_success_total"]
	if login == nil || login.GetMetric()[0].GetCounter().GetValue() != 7 {
		t.Fatalf("expected login counter 7, got %v", login)
	}
	if f := families["gosession_audit_dropped_total"]; f == nil || f.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("expected dropped counter 2, got %v", f)
	}

	hist := families["gosession_validate_latency_seconds"].GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 36 {
		t.Fatalf("expected sample count 36, got %d", hist.GetSampleCount())
	}
	first := hist.GetBucket()[0]
	if first.GetUpperBound() != 0.005 || first.GetCumulativeCount() != 1 {
		t.Fatalf("unexpected first bucket %v", first)
	}
}

func TestCollectorSkipsDisabledHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	families := gather(t, c)
	if _, ok := families["gosession_validate_latency_seconds"]; ok {
		t.Fatal("expected no histogram when latency is disabled")
	}
	if f := families["gosession_logout_total"]; f == nil || f.GetMetric()[0].GetCounter().GetValue() != 0 {
		t.Fatalf("expected zero-valued logout counter, got %v", f)
	}
}
