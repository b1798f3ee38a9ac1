package fake

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/spatialmath"
)

func frameAt(i int) slam.StereoFrame {
	stamp := time.Unix(100, 0).Add(time.Duration(i) * 100 * time.Millisecond)
	return slam.StereoFrame{Left: slam.Image{Stamp: stamp}, Right: slam.Image{Stamp: stamp}}
}

func TestTrajectoryAndMap(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(logging.NewTestLogger(t))

	test.That(t, e.AddInertial(slam.InertialSample{Stamp: time.Unix(100, 0)}), test.ShouldBeNil)
	test.That(t, e.BufferedInertial(), test.ShouldEqual, 1)

	for i := 1; i <= KeyFrameEvery; i++ {
		res, err := e.TrackStereo(ctx, frameAt(i))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.OK, test.ShouldBeTrue)
		test.That(t, res.CameraPose.Point().Z, test.ShouldAlmostEqual, StepSize*float64(i))
	}
	test.That(t, e.BufferedInertial(), test.ShouldEqual, 0)

	snapshot, err := e.MapData(ctx, slam.MapDataRequest{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(snapshot.KeyFrames), test.ShouldEqual, 2)
	test.That(t, snapshot.NumPoints(), test.ShouldEqual, 2*pointsPerKeyFrame)

	kf := int64(1)
	snapshot, err = e.MapData(ctx, slam.MapDataRequest{KeyFrameID: &kf})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snapshot.NumPoints(), test.ShouldEqual, pointsPerKeyFrame)

	snapshot, err = e.MapData(ctx, slam.MapDataRequest{TrackedPointsOnly: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snapshot.NumPoints(), test.ShouldEqual, 0)

	points, err := e.CurrentMapPoints(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldEqual, 2*pointsPerKeyFrame)

	test.That(t, e.Close(ctx), test.ShouldBeNil)
	test.That(t, e.Closed(), test.ShouldBeTrue)
	_, err = e.TrackStereo(ctx, frameAt(10))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, e.Overlaps(), test.ShouldEqual, 0)
}

func TestVisibleLandmarks(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(logging.NewTestLogger(t))
	e.AddMapPoints(
		r3.Vector{Z: 1},
		r3.Vector{X: 0.1, Z: 2},
		r3.Vector{Y: 0.2, Z: 3},
		r3.Vector{Z: -1},
		r3.Vector{Z: 10},
		r3.Vector{X: 3, Z: 0.1},
	)

	visible, err := e.VisibleLandmarks(ctx, spatialmath.NewZeroPose(), 1000, 5, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(visible), test.ShouldEqual, 3)

	visible, err = e.VisibleLandmarks(ctx, spatialmath.NewZeroPose(), 2, 5, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(visible), test.ShouldEqual, 2)
}

func TestViewerOption(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)

	e := NewEngine(logger)
	test.That(t, e.Viewer(), test.ShouldBeFalse)

	e = NewEngine(logger, WithViewer(true))
	test.That(t, e.Viewer(), test.ShouldBeTrue)

	entries := observed.FilterMessage("fake engine created").All()
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[0].ContextMap()["viewer"], test.ShouldBeFalse)
	test.That(t, entries[1].ContextMap()["viewer"], test.ShouldBeTrue)
}
