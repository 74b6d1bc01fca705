package shake

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func at(ms int, x, y, z float64) Sample {
	return Sample{X: x, Y: y, Z: z, At: t0.Add(time.Duration(ms) * time.Millisecond)}
}

func TestJerk(t *testing.T) {
	// |(3,4,0)| = 5 over 100ms -> 5/100*10000 = 500
	if got := Jerk(at(0, 0, 0, 0), at(100, 3, 4, 0)); math.Abs(got-500) > 1e-9 {
		t.Fatalf("Jerk = %v, want 500", got)
	}
	if got := Jerk(at(100, 0, 0, 0), at(100, 9, 9, 9)); got != 0 {
		t.Fatalf("zero elapsed should give 0, got %v", got)
	}
}

func TestObserveFiresAboveThreshold(t *testing.T) {
	d := NewDetector(800, 100*time.Millisecond)
	if d.Observe(at(0, 0, 0, 9.8)) {
		t.Fatal("baseline sample must not fire")
	}
	if d.Observe(at(100, 3, 4, 9.8)) {
		t.Fatal("jerk 500 must not fire")
	}
	// |(9,12,0)| = 15 -> 1500
	if !d.Observe(at(200, 12, 16, 9.8)) {
		t.Fatal("jerk 1500 should fire")
	}
	// rapid repeated shakes fire again, no re-arm delay
	if !d.Observe(at(300, 0, 0, 9.8)) {
		t.Fatal("second burst should fire")
	}
}

func TestObserveGatesCloseSamples(t *testing.T) {
	d := NewDetector(800, 100*time.Millisecond)
	d.Observe(at(0, 0, 0, 0))
	if d.Observe(at(50, 50, 50, 50)) {
		t.Fatal("sample inside the gate must be ignored")
	}
	// gated sample did not move the baseline: 10 over 100ms = 1000
	if !d.Observe(at(100, 6, 8, 0)) {
		t.Fatal("expected fire against the original baseline")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d := NewDetector(0, 0)
	samples := make(chan Sample)
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan Sample, 4)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, samples, func(s Sample) { fired <- s })
		close(done)
	}()

	samples <- at(0, 0, 0, 0)
	samples <- at(100, 20, 0, 0)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected a shake")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestReadCSV(t *testing.T) {
	input := "# t,x,y,z\n1000, 0.1, 0.2, 9.8\n\n1100,1,2,3\n"
	out := make(chan Sample, 4)
	if err := ReadCSV(context.Background(), strings.NewReader(input), out); err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	var got []Sample
	for s := range out {
		got = append(got, s)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[1].At.Sub(got[0].At) != 100*time.Millisecond || got[1].Z != 3 {
		t.Fatalf("unexpected samples %+v", got)
	}
}

func TestReadCSVRejectsBadLine(t *testing.T) {
	out := make(chan Sample, 4)
	err := ReadCSV(context.Background(), strings.NewReader("1000,a,b,c\n"), out)
	if err == nil {
		t.Fatal("expected parse error")
	}
}
