package stats

import "testing"

func TestCollect_NeverErrors(t *testing.T) {
	s := Collect()
	if s.Load1 < 0 {
		t.Errorf("expected non-negative load, got %f", s.Load1)
	}
	if s.SwapPct < 0 || s.SwapPct > 100 {
		t.Errorf("expected swap pct in [0,100], got %d", s.SwapPct)
	}
}

func TestSample_OverThreshold(t *testing.T) {
	s := Sample{Load1: LoadThreshold + 0.01}
	if !(s.Load1 > LoadThreshold) {
		t.Fatalf("expected sample load to exceed threshold")
	}
}
