package window

import "testing"

func spec(w, h, c int) Spec {
	return Spec{Fs: 160, W: w, H: h, C: c, Dtype: F32}
}

func TestAssemblerNoOverlap(t *testing.T) {
	s := spec(160, 160, 2)
	a := NewAssembler(s)
	samples := 160 * 5 // exactly 5 disjoint windows
	hops := samples / s.H
	count := 0
	for i := 0; i < hops; i++ {
		hop := make([]byte, s.HopBytes())
		if _, _, ok := a.PushHop(hop); ok {
			count++
		}
	}
	if count != 5 {
		t.Fatalf("expected 5 windows, got %d", count)
	}
}

func TestAssemblerMaximalOverlap(t *testing.T) {
	s := spec(160, 1, 2)
	a := NewAssembler(s)
	samples := 500
	count := 0
	for i := 0; i < samples; i++ {
		hop := make([]byte, s.HopBytes())
		if _, _, ok := a.PushHop(hop); ok {
			count++
		}
	}
	want := samples - s.W + 1
	if count != want {
		t.Fatalf("expected %d windows, got %d", want, count)
	}
}

func TestAssemblerWindowIndexMonotonic(t *testing.T) {
	s := spec(8, 4, 1)
	a := NewAssembler(s)
	var lastIdx = -1
	for i := 0; i < 10; i++ {
		hop := make([]byte, s.HopBytes())
		if _, idx, ok := a.PushHop(hop); ok {
			if idx != lastIdx+1 {
				t.Fatalf("window index not monotonic: got %d after %d", idx, lastIdx)
			}
			lastIdx = idx
		}
	}
}

func TestAssemblerReset(t *testing.T) {
	s := spec(8, 4, 1)
	a := NewAssembler(s)
	for i := 0; i < 4; i++ {
		a.PushHop(make([]byte, s.HopBytes()))
	}
	a.Reset()
	_, idx, ok := a.PushHop(make([]byte, s.HopBytes()))
	if ok {
		t.Fatalf("expected no window immediately after reset with a single hop")
	}
	_, idx, ok = a.PushHop(make([]byte, s.HopBytes()))
	if !ok || idx != 0 {
		t.Fatalf("expected first window after reset to have index 0, got idx=%d ok=%v", idx, ok)
	}
}

func TestWarmupWindows(t *testing.T) {
	s := spec(160, 80, 1)
	if got := s.WarmupWindows(10); got != 20 {
		t.Fatalf("expected 20 warmup windows, got %d", got)
	}
	if got := s.WarmupWindows(0); got != 0 {
		t.Fatalf("expected 0 warmup windows for 0 seconds, got %d", got)
	}
}

func TestSpecValidate(t *testing.T) {
	bad := []Spec{
		{Fs: 0, W: 1, H: 1, C: 1, Dtype: F32},
		{Fs: 1, W: 0, H: 1, C: 1, Dtype: F32},
		{Fs: 1, W: 1, H: 0, C: 1, Dtype: F32},
		{Fs: 1, W: 1, H: 2, C: 1, Dtype: F32},
		{Fs: 1, W: 1, H: 1, C: 0, Dtype: F32},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, s)
		}
	}
	ok := Spec{Fs: 160, W: 160, H: 80, C: 4, Dtype: F32}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
