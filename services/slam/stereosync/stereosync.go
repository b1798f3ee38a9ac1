// Package stereosync pairs left and right camera images that arrive independently into stereo
// frames using approximate time matching.
package stereosync

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam"
)

// Defaults used when a Synchronizer is built with zero values.
const (
	DefaultQueueSize = 10
	DefaultTolerance = 50 * time.Millisecond
)

type side int

const (
	left side = iota
	right
)

func (s side) String() string {
	if s == left {
		return "left"
	}
	return "right"
}

type channel struct {
	pending []slam.Image
	// stamp of the last image of this channel that went into a frame
	watermark time.Time
}

// Synchronizer matches left and right images whose stamps are within a tolerance of each other.
// Each channel holds at most a fixed number of unmatched images; the oldest is dropped on
// overflow. An image is used in at most one frame.
type Synchronizer struct {
	mu        sync.Mutex
	queueSize int
	tolerance time.Duration
	channels  [2]channel

	matched atomic.Int64
	dropped atomic.Int64

	logger logging.Logger
}

// New returns a Synchronizer. A non-positive queueSize or tolerance selects the default.
func New(queueSize int, tolerance time.Duration, logger logging.Logger) *Synchronizer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Synchronizer{queueSize: queueSize, tolerance: tolerance, logger: logger}
}

// AddLeft offers a left image and returns the stereo frame it completes, if any.
func (s *Synchronizer) AddLeft(img slam.Image) (slam.StereoFrame, bool) {
	return s.add(left, img)
}

// AddRight offers a right image and returns the stereo frame it completes, if any.
func (s *Synchronizer) AddRight(img slam.Image) (slam.StereoFrame, bool) {
	return s.add(right, img)
}

// Matched returns the number of stereo frames emitted.
func (s *Synchronizer) Matched() int64 {
	return s.matched.Load()
}

// Dropped returns the number of images discarded without being matched.
func (s *Synchronizer) Dropped() int64 {
	return s.dropped.Load()
}

// Pending returns the number of unmatched images held on each channel.
func (s *Synchronizer) Pending() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels[left].pending), len(s.channels[right].pending)
}

func (s *Synchronizer) add(from side, img slam.Image) (slam.StereoFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	own := &s.channels[from]
	other := &s.channels[1-from]

	if !own.watermark.IsZero() && !img.Stamp.After(own.watermark) {
		s.dropped.Inc()
		s.logger.Debugw("dropping image older than the last matched frame", "channel", from, "stamp", img.Stamp)
		return slam.StereoFrame{}, false
	}

	best := -1
	var bestDelta time.Duration
	for i, candidate := range other.pending {
		delta := absDuration(candidate.Stamp.Sub(img.Stamp))
		if delta > s.tolerance {
			continue
		}
		if best == -1 || delta < bestDelta {
			best, bestDelta = i, delta
		}
	}

	if best == -1 {
		s.enqueue(from, img)
		return slam.StereoFrame{}, false
	}

	counterpart := other.pending[best]
	s.consume(from, img.Stamp, -1)
	s.consume(1-from, counterpart.Stamp, best)
	s.matched.Inc()

	if from == left {
		return slam.StereoFrame{Left: img, Right: counterpart}, true
	}
	return slam.StereoFrame{Left: counterpart, Right: img}, true
}

// enqueue inserts img in stamp order, dropping the oldest image when the channel is full.
func (s *Synchronizer) enqueue(to side, img slam.Image) {
	ch := &s.channels[to]
	idx := sort.Search(len(ch.pending), func(i int) bool {
		return ch.pending[i].Stamp.After(img.Stamp)
	})
	ch.pending = append(ch.pending, slam.Image{})
	copy(ch.pending[idx+1:], ch.pending[idx:])
	ch.pending[idx] = img

	for len(ch.pending) > s.queueSize {
		s.logger.Debugw("synchronizer queue full, dropping oldest image", "channel", to, "stamp", ch.pending[0].Stamp)
		ch.pending[0] = slam.Image{}
		ch.pending = ch.pending[1:]
		s.dropped.Inc()
	}
}

// consume removes every image at or before stamp from the channel. The image at index matched,
// if any, went into the frame; every other image removed counts as dropped.
func (s *Synchronizer) consume(from side, stamp time.Time, matched int) {
	ch := &s.channels[from]
	ch.watermark = stamp
	keep := ch.pending[:0]
	for i, img := range ch.pending {
		if img.Stamp.After(stamp) {
			keep = append(keep, img)
			continue
		}
		if i != matched {
			s.dropped.Inc()
		}
	}
	for i := len(keep); i < len(ch.pending); i++ {
		ch.pending[i] = slam.Image{}
	}
	ch.pending = keep
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
