// Package shake turns accelerometer samples into discrete shake triggers.
package shake

import (
	"context"
	"math"
	"sync"
	"time"
)

// Defaults for the jerk threshold and the sample gate.
const (
	DefaultThreshold = 800
	DefaultGap       = 100 * time.Millisecond
)

// Sample is one accelerometer reading in m/s².
type Sample struct {
	X, Y, Z float64
	At      time.Time
}

// Detector compares samples at least gap apart and fires when the jerk
// magnitude exceeds threshold. It has no re-arm delay of its own.
type Detector struct {
	threshold float64
	gap       time.Duration

	mu   sync.Mutex
	last Sample
	has  bool
}

// NewDetector builds a detector; zero values pick the defaults.
func NewDetector(threshold float64, gap time.Duration) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if gap <= 0 {
		gap = DefaultGap
	}
	return &Detector{threshold: threshold, gap: gap}
}

// Jerk is the delta vector norm per elapsed millisecond, scaled by 10000.
func Jerk(prev, cur Sample) float64 {
	elapsed := float64(cur.At.Sub(prev.At)) / float64(time.Millisecond)
	if elapsed <= 0 {
		return 0
	}
	dx, dy, dz := cur.X-prev.X, cur.Y-prev.Y, cur.Z-prev.Z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) / elapsed * 10000
}

// Observe feeds one sample and reports whether it completes a shake.
// Samples closer than the gate to the last evaluated one are dropped.
func (d *Detector) Observe(s Sample) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.has {
		d.last, d.has = s, true
		return false
	}
	if s.At.Sub(d.last.At) < d.gap {
		return false
	}
	jerk := Jerk(d.last, s)
	d.last = s
	return jerk > d.threshold
}

// Reset forgets the baseline sample.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.has = false
	d.mu.Unlock()
}

// Run consumes samples until ctx ends or samples closes, calling onShake for
// every qualifying sample. Cancelling ctx is the stop signal.
func (d *Detector) Run(ctx context.Context, samples <-chan Sample, onShake func(Sample)) {
	defer d.Reset()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			if d.Observe(s) {
				onShake(s)
			}
		}
	}
}
