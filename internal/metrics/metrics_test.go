package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestScansTotalLabels(t *testing.T) {
	before := testutil.ToFloat64(ScansTotal.WithLabelValues("check_in"))
	ScansTotal.WithLabelValues("check_in").Inc()
	if got := testutil.ToFloat64(ScansTotal.WithLabelValues("check_in")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}
