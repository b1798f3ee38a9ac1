package builtin

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"go.viam.com/stereoslam/services/slam"
)

// frequencyCounter counts successful tracks over a window that restarts on every report.
type frequencyCounter struct {
	clock clock.Clock

	mu          sync.Mutex
	count       int64
	windowStart time.Time
}

func newFrequencyCounter(clk clock.Clock) *frequencyCounter {
	return &frequencyCounter{clock: clk, windowStart: clk.Now()}
}

func (fc *frequencyCounter) Increment() {
	fc.mu.Lock()
	fc.count++
	fc.mu.Unlock()
}

func (fc *frequencyCounter) Count() int64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.count
}

// Report returns the count and rate per second since the window started, then starts a new window.
func (fc *frequencyCounter) Report() (int64, float64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	now := fc.clock.Now()
	count := fc.count
	var rate float64
	if elapsed := now.Sub(fc.windowStart).Seconds(); elapsed > 0 {
		rate = float64(count) / elapsed
	}
	fc.count = 0
	fc.windowStart = now
	return count, rate
}

// trackingState is untracked until the first successful track and tracked forever after.
type trackingState struct {
	tracked   atomic.Bool
	frequency *frequencyCounter
}

func newTrackingState(clk clock.Clock) *trackingState {
	return &trackingState{frequency: newFrequencyCounter(clk)}
}

// Observe records a tracking result and returns whether it carried a pose.
func (ts *trackingState) Observe(res slam.TrackingResult) bool {
	if !res.OK {
		return false
	}
	ts.tracked.Store(true)
	ts.frequency.Increment()
	return true
}

func (ts *trackingState) Tracked() bool {
	return ts.tracked.Load()
}
