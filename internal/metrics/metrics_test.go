package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRefreshTotal_Labels(t *testing.T) {
	before := testutil.ToFloat64(RefreshTotal.WithLabelValues("manual", "success"))
	RefreshTotal.WithLabelValues("manual", "success").Inc()
	if got := testutil.ToFloat64(RefreshTotal.WithLabelValues("manual", "success")); got != before+1 {
		t.Fatalf("RefreshTotal=%v, want %v", got, before+1)
	}
}

func TestGauges_Set(t *testing.T) {
	AuthoritativeLogs.Set(42)
	FilteredLogs.Set(7)
	if got := testutil.ToFloat64(AuthoritativeLogs); got != 42 {
		t.Fatalf("AuthoritativeLogs=%v, want 42", got)
	}
	if got := testutil.ToFloat64(FilteredLogs); got != 7 {
		t.Fatalf("FilteredLogs=%v, want 7", got)
	}
}
