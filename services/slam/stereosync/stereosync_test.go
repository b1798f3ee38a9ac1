package stereosync

import (
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func img(frame string, offset time.Duration) slam.Image {
	return slam.Image{Stamp: base.Add(offset), FrameID: frame}
}

func TestMatchWithinTolerance(t *testing.T) {
	s := New(0, 0, logging.NewTestLogger(t))

	_, ok := s.AddLeft(img("left", 0))
	test.That(t, ok, test.ShouldBeFalse)

	frame, ok := s.AddRight(img("right", 5*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.Left.Stamp, test.ShouldEqual, base)
	test.That(t, frame.Right.Stamp, test.ShouldEqual, base.Add(5*time.Millisecond))
	test.That(t, frame.Left.FrameID, test.ShouldEqual, "left")
	test.That(t, frame.Right.FrameID, test.ShouldEqual, "right")
	test.That(t, frame.Stamp(), test.ShouldEqual, base)
	test.That(t, s.Matched(), test.ShouldEqual, 1)

	l, r := s.Pending()
	test.That(t, l, test.ShouldEqual, 0)
	test.That(t, r, test.ShouldEqual, 0)
}

func TestNoMatchOutsideTolerance(t *testing.T) {
	s := New(10, 50*time.Millisecond, logging.NewTestLogger(t))

	_, ok := s.AddLeft(img("left", 0))
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = s.AddRight(img("right", 80*time.Millisecond))
	test.That(t, ok, test.ShouldBeFalse)

	l, r := s.Pending()
	test.That(t, l, test.ShouldEqual, 1)
	test.That(t, r, test.ShouldEqual, 1)
	test.That(t, s.Matched(), test.ShouldEqual, 0)
}

func TestEachImageMatchedOnce(t *testing.T) {
	s := New(10, 50*time.Millisecond, logging.NewTestLogger(t))

	_, ok := s.AddLeft(img("left", 0))
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = s.AddRight(img("right", 10*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)

	// a second left image close to the consumed right image must not reuse it
	_, ok = s.AddLeft(img("left", 20*time.Millisecond))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.Matched(), test.ShouldEqual, 1)

	// a late duplicate of the consumed left image is dropped
	_, ok = s.AddLeft(img("left", 0))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.Dropped(), test.ShouldEqual, 1)
}

func TestClosestCounterpartAndOlderPurged(t *testing.T) {
	s := New(10, 50*time.Millisecond, logging.NewTestLogger(t))

	for _, offset := range []time.Duration{0, 30 * time.Millisecond, 60 * time.Millisecond, 200 * time.Millisecond} {
		_, ok := s.AddRight(img("right", offset))
		test.That(t, ok, test.ShouldBeFalse)
	}

	frame, ok := s.AddLeft(img("left", 55*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.Right.Stamp, test.ShouldEqual, base.Add(60*time.Millisecond))

	// the two older right images are discarded with the match, the newer one is kept
	l, r := s.Pending()
	test.That(t, l, test.ShouldEqual, 0)
	test.That(t, r, test.ShouldEqual, 1)
	test.That(t, s.Dropped(), test.ShouldEqual, 2)

	frame, ok = s.AddLeft(img("left", 190*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.Right.Stamp, test.ShouldEqual, base.Add(200*time.Millisecond))
	test.That(t, s.Matched(), test.ShouldEqual, 2)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	s := New(3, 10*time.Millisecond, logging.NewTestLogger(t))

	for i := 0; i < 5; i++ {
		_, ok := s.AddLeft(img("left", time.Duration(i)*100*time.Millisecond))
		test.That(t, ok, test.ShouldBeFalse)
	}
	l, _ := s.Pending()
	test.That(t, l, test.ShouldEqual, 3)
	test.That(t, s.Dropped(), test.ShouldEqual, 2)

	// the oldest image was dropped and can no longer be matched
	_, ok := s.AddRight(img("right", 0))
	test.That(t, ok, test.ShouldBeFalse)

	frame, ok := s.AddRight(img("right", 205*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.Left.Stamp, test.ShouldEqual, base.Add(200*time.Millisecond))
}

func TestOutOfOrderArrivals(t *testing.T) {
	s := New(10, 50*time.Millisecond, logging.NewTestLogger(t))

	_, ok := s.AddLeft(img("left", 100*time.Millisecond))
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = s.AddLeft(img("left", 0))
	test.That(t, ok, test.ShouldBeFalse)

	frame, ok := s.AddRight(img("right", 2*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.Left.Stamp, test.ShouldEqual, base)

	frame, ok = s.AddRight(img("right", 101*time.Millisecond))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.Left.Stamp, test.ShouldEqual, base.Add(100*time.Millisecond))
	test.That(t, s.Dropped(), test.ShouldEqual, 0)
}
