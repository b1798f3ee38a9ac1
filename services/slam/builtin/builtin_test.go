package builtin

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/stereoslam/config"
	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/pointcloud"
	"go.viam.com/stereoslam/referenceframe"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/services/slam/fake"
	"go.viam.com/stereoslam/spatialmath"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	node   *Node
	engine *fake.Engine
	clock  *clock.Mock
	logs   *observer.ObservedLogs

	transforms    *fake.Recorder[*referenceframe.Transform]
	poses         *fake.Recorder[*referenceframe.PoseInFrame]
	mapData       *fake.Recorder[slam.MapData]
	mapPoints     *fake.Recorder[pointcloud.PointCloud]
	landmarks     *fake.Recorder[pointcloud.PointCloud]
	landmarksPose *fake.Recorder[*referenceframe.PoseInFrame]

	frames int
}

// quietConfig keeps the timers out of the way so tests drive the publication tasks directly.
func quietConfig() *config.Config {
	return &config.Config{
		MapDataPublishFrequencyMs:  int(time.Hour / time.Millisecond),
		LandmarkPublishFrequencyMs: int(time.Hour / time.Millisecond),
	}
}

func boolPtr(b bool) *bool { return &b }

func newHarness(t *testing.T, cfg *config.Config, engine slam.Engine) *harness {
	t.Helper()
	logger, logs := logging.NewObservedTestLogger(t)
	h := &harness{
		clock:         clock.NewMock(),
		logs:          logs,
		transforms:    &fake.Recorder[*referenceframe.Transform]{},
		poses:         &fake.Recorder[*referenceframe.PoseInFrame]{},
		mapData:       &fake.Recorder[slam.MapData]{},
		mapPoints:     &fake.Recorder[pointcloud.PointCloud]{},
		landmarks:     &fake.Recorder[pointcloud.PointCloud]{},
		landmarksPose: &fake.Recorder[*referenceframe.PoseInFrame]{},
	}
	h.clock.Set(start)
	if engine == nil {
		h.engine = fake.NewEngine(logger)
		engine = h.engine
	} else if fe, ok := engine.(*fake.Engine); ok {
		h.engine = fe
	}

	node, err := New(cfg, engine, slam.Outputs{
		Transforms:           h.transforms,
		Pose:                 h.poses,
		MapData:              h.mapData,
		MapPoints:            h.mapPoints,
		VisibleLandmarks:     h.landmarks,
		VisibleLandmarksPose: h.landmarksPose,
	}, logger, WithClock(h.clock))
	test.That(t, err, test.ShouldBeNil)
	h.node = node
	t.Cleanup(func() {
		test.That(t, node.Close(context.Background()), test.ShouldBeNil)
	})
	return h
}

// sendFrame delivers a left image and, 5ms later, its right image. It returns the left stamp.
func (h *harness) sendFrame(t *testing.T) time.Time {
	t.Helper()
	ctx := context.Background()
	h.frames++
	stamp := start.Add(time.Duration(h.frames) * 100 * time.Millisecond)
	test.That(t, h.node.HandleLeftImage(ctx, slam.Image{Stamp: stamp, FrameID: "left"}), test.ShouldBeNil)
	test.That(t, h.node.HandleRightImage(ctx, slam.Image{Stamp: stamp.Add(5 * time.Millisecond), FrameID: "right"}),
		test.ShouldBeNil)
	return stamp
}

func failingTrack(context.Context, slam.StereoFrame) (slam.TrackingResult, error) {
	return slam.TrackingResult{}, nil
}

func TestDirectModeBroadcastsOnSuccess(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)

	stamp := h.sendFrame(t)
	test.That(t, h.node.Tracked(), test.ShouldBeTrue)

	tfs := h.transforms.Messages()
	test.That(t, len(tfs), test.ShouldEqual, 1)
	test.That(t, tfs[0].Parent, test.ShouldEqual, "map")
	test.That(t, tfs[0].Child, test.ShouldEqual, "base_link")
	test.That(t, tfs[0].Stamp, test.ShouldEqual, stamp)

	// default robot offset (1, 1) applied to the first fake camera pose
	expected := r3.Vector{X: 1, Y: 1, Z: fake.StepSize}
	test.That(t, tfs[0].Pose.Point().Sub(expected).Norm(), test.ShouldBeLessThan, 1e-9)

	pose, frame, err := h.node.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame, test.ShouldEqual, "base_link")
	test.That(t, spatialmath.PoseAlmostEqual(pose, tfs[0].Pose), test.ShouldBeTrue)
	test.That(t, h.poses.Len(), test.ShouldEqual, 1)

	matched, _ := h.node.SyncStats()
	test.That(t, matched, test.ShouldEqual, 1)
}

func TestUnsuccessfulTrackingPublishesNothing(t *testing.T) {
	engine := fake.NewEngine(logging.NewTestLogger(t))
	engine.TrackFunc = failingTrack
	engine.AddMapPoints(r3.Vector{Z: 1})
	h := newHarness(t, quietConfig(), engine)

	for i := 0; i < 10; i++ {
		h.sendFrame(t)
		test.That(t, h.node.Tracked(), test.ShouldBeFalse)
	}
	test.That(t, h.transforms.Len(), test.ShouldEqual, 0)

	ctx := context.Background()
	h.node.publishMapData(ctx)
	h.node.publishMapPoints(ctx)
	test.That(t, h.mapData.Len(), test.ShouldEqual, 0)
	test.That(t, h.mapPoints.Len(), test.ShouldEqual, 0)

	_, _, err := h.node.Position(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrackedIsSticky(t *testing.T) {
	engine := fake.NewEngine(logging.NewTestLogger(t))
	var mu sync.Mutex
	outcomes := []bool{false, true, false, false, true, false}
	engine.TrackFunc = func(context.Context, slam.StereoFrame) (slam.TrackingResult, error) {
		mu.Lock()
		defer mu.Unlock()
		ok := outcomes[0]
		outcomes = outcomes[1:]
		return slam.TrackingResult{OK: ok, CameraPose: spatialmath.NewZeroPose()}, nil
	}
	h := newHarness(t, quietConfig(), engine)

	seen := []bool{}
	for i := 0; i < 6; i++ {
		h.sendFrame(t)
		seen = append(seen, h.node.Tracked())
	}
	test.That(t, seen, test.ShouldResemble, []bool{false, true, true, true, true, true})
	test.That(t, h.transforms.Len(), test.ShouldEqual, 2)
	test.That(t, h.node.state.frequency.Count(), test.ShouldEqual, 2)
}

func TestEngineErrorIsNoPose(t *testing.T) {
	engine := fake.NewEngine(logging.NewTestLogger(t))
	engine.TrackFunc = func(context.Context, slam.StereoFrame) (slam.TrackingResult, error) {
		return slam.TrackingResult{OK: true, CameraPose: spatialmath.NewPoseFromPoint(r3.Vector{X: math.NaN()})}, nil
	}
	h := newHarness(t, quietConfig(), engine)

	h.sendFrame(t)
	test.That(t, h.node.Tracked(), test.ShouldBeFalse)
	test.That(t, h.transforms.Len(), test.ShouldEqual, 0)
}

func TestMapDataTask(t *testing.T) {
	engine := fake.NewEngine(logging.NewTestLogger(t))
	engine.TrackFunc = func(context.Context, slam.StereoFrame) (slam.TrackingResult, error) {
		return slam.TrackingResult{OK: true, CameraPose: spatialmath.NewZeroPose()}, nil
	}
	kfPose := spatialmath.NewPoseFromPoint(r3.Vector{X: 2, Y: 3})
	engine.AddKeyFrame(slam.KeyFrame{ID: 7, Stamp: start, Pose: kfPose})
	engine.AddMapPoints(r3.Vector{Z: 1}, r3.Vector{Z: 2})
	h := newHarness(t, quietConfig(), engine)

	h.sendFrame(t)
	h.clock.Add(2 * time.Second)
	test.That(t, h.node.state.frequency.Count(), test.ShouldEqual, 1)

	h.node.publishMapData(context.Background())

	msgs := h.mapData.Messages()
	test.That(t, len(msgs), test.ShouldEqual, 1)
	test.That(t, msgs[0].ActiveMapOnly, test.ShouldBeTrue)
	test.That(t, msgs[0].TrackedPointsOnly, test.ShouldBeFalse)
	test.That(t, msgs[0].Header.FrameID, test.ShouldEqual, "map")
	test.That(t, msgs[0].Header.Stamp, test.ShouldEqual, h.clock.Now())
	test.That(t, len(msgs[0].KeyFrames), test.ShouldEqual, 1)
	test.That(t, msgs[0].KeyFrames[0].ID, test.ShouldEqual, 7)
	test.That(t, spatialmath.PoseAlmostEqual(msgs[0].KeyFrames[0].Pose, kfPose), test.ShouldBeTrue)
	test.That(t, len(msgs[0].MapPoints), test.ShouldEqual, 2)

	test.That(t, h.node.state.frequency.Count(), test.ShouldEqual, 0)
	rates := h.logs.FilterMessage("tracking rate").All()
	test.That(t, len(rates), test.ShouldEqual, 1)
	test.That(t, rates[0].ContextMap()["frames_per_sec"], test.ShouldEqual, 0.5)
}

func TestMapPointsTaskSkipsEmptyMap(t *testing.T) {
	engine := fake.NewEngine(logging.NewTestLogger(t))
	engine.TrackFunc = func(context.Context, slam.StereoFrame) (slam.TrackingResult, error) {
		return slam.TrackingResult{OK: true, CameraPose: spatialmath.NewZeroPose()}, nil
	}
	h := newHarness(t, quietConfig(), engine)
	h.sendFrame(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.node.publishMapPoints(ctx)
	}
	test.That(t, h.mapPoints.Len(), test.ShouldEqual, 0)

	engine.AddMapPoints(r3.Vector{Z: 1}, r3.Vector{X: 1, Z: 1})
	h.node.publishMapPoints(ctx)
	clouds := h.mapPoints.Messages()
	test.That(t, len(clouds), test.ShouldEqual, 1)
	test.That(t, clouds[0].Size(), test.ShouldEqual, 2)
}

func TestPublicationTasksShareALane(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	h.sendFrame(t)

	h.node.scheduler.publishMu.Lock()
	h.node.publishMapData(context.Background())
	h.node.publishMapPoints(context.Background())
	h.node.scheduler.publishMu.Unlock()
	test.That(t, h.mapData.Len(), test.ShouldEqual, 0)
	test.That(t, h.mapPoints.Len(), test.ShouldEqual, 0)

	// a task that cannot get the engine before its deadline skips the tick
	test.That(t, h.node.gateway.sem.Acquire(context.Background(), 1), test.ShouldBeNil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	h.node.publishMapData(ctx)
	h.node.gateway.sem.Release(1)
	test.That(t, h.mapData.Len(), test.ShouldEqual, 0)

	h.node.publishMapData(context.Background())
	test.That(t, h.mapData.Len(), test.ShouldEqual, 1)
}

func TestScheduledPublication(t *testing.T) {
	cfg := &config.Config{MapDataPublishFrequencyMs: 20, LandmarkPublishFrequencyMs: 20}
	h := newHarness(t, cfg, nil)
	test.That(t, h.node.ScheduledTasks(), test.ShouldResemble, []string{mapDataTaskName, mapPointsTaskName})

	h.sendFrame(t)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.mapData.Len(), test.ShouldBeGreaterThan, 0)
		test.That(tb, h.mapPoints.Len(), test.ShouldBeGreaterThan, 0)
	})

	cfg = &config.Config{MapDataPublishFrequencyMs: 20, ROSVisualization: boolPtr(false)}
	h2 := newHarness(t, cfg, nil)
	test.That(t, h2.node.ScheduledTasks(), test.ShouldResemble, []string{mapDataTaskName})
	h2.sendFrame(t)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h2.mapData.Len(), test.ShouldBeGreaterThan, 0)
	})
	test.That(t, h2.mapPoints.Len(), test.ShouldEqual, 0)
}

func TestOdometryIgnoredInDirectMode(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	ctx := context.Background()

	h.sendFrame(t)
	test.That(t, h.transforms.Len(), test.ShouldEqual, 1)

	for i := 0; i < 5; i++ {
		test.That(t, h.node.HandleOdometry(ctx, slam.OdometrySample{
			Stamp: start.Add(time.Duration(i) * time.Millisecond),
			Pose:  spatialmath.NewPoseFromPoint(r3.Vector{X: 5}),
		}), test.ShouldBeNil)
	}
	test.That(t, h.transforms.Len(), test.ShouldEqual, 1)
	test.That(t, h.logs.FilterLevelExact(logging.WARN.AsZap()).Len(), test.ShouldEqual, 1)

	h.sendFrame(t)
	tfs := h.transforms.Messages()
	test.That(t, len(tfs), test.ShouldEqual, 2)
	test.That(t, tfs[1].Child, test.ShouldEqual, "base_link")
}

func TestComposedMode(t *testing.T) {
	cfg := quietConfig()
	cfg.NoOdometryMode = boolPtr(false)
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	// no odometry yet: nothing to broadcast
	h.sendFrame(t)
	test.That(t, h.node.Tracked(), test.ShouldBeTrue)
	test.That(t, h.transforms.Len(), test.ShouldEqual, 0)

	odomStamp := start.Add(150 * time.Millisecond)
	odomToBase := spatialmath.NewPose(r3.Vector{X: 0.5, Y: -0.2}, &spatialmath.OrientationVectorDegrees{OZ: 1, Theta: 30})
	test.That(t, h.node.HandleOdometry(ctx, slam.OdometrySample{
		Stamp: odomStamp, FrameID: "odom", ChildFrameID: "base_link", Pose: odomToBase,
	}), test.ShouldBeNil)

	// odometry only composes; the broadcast waits for the next tracked frame
	test.That(t, h.transforms.Len(), test.ShouldEqual, 0)
	mapToOdom, ok := h.node.composer.LatestMapToOdom()
	test.That(t, ok, test.ShouldBeTrue)
	mapToBase, ok := h.node.composer.LatestMapToBase()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(spatialmath.Compose(mapToOdom.Pose, odomToBase), mapToBase.Pose), test.ShouldBeTrue)

	h.sendFrame(t)
	tfs := h.transforms.Messages()
	test.That(t, len(tfs), test.ShouldEqual, 1)
	test.That(t, tfs[0].Parent, test.ShouldEqual, "map")
	test.That(t, tfs[0].Child, test.ShouldEqual, "odom")
	test.That(t, tfs[0].Stamp, test.ShouldEqual, odomStamp)
	test.That(t, spatialmath.PoseAlmostEqual(tfs[0].Pose, mapToOdom.Pose), test.ShouldBeTrue)

	// more odometry without a new frame broadcasts nothing
	test.That(t, h.node.HandleOdometry(ctx, slam.OdometrySample{
		Stamp: odomStamp.Add(50 * time.Millisecond), FrameID: "odom", ChildFrameID: "base_link", Pose: odomToBase,
	}), test.ShouldBeNil)
	test.That(t, h.transforms.Len(), test.ShouldEqual, 1)

	h.sendFrame(t)
	tfs = h.transforms.Messages()
	test.That(t, len(tfs), test.ShouldEqual, 2)
	test.That(t, tfs[1].Child, test.ShouldEqual, "odom")
	test.That(t, tfs[1].Stamp, test.ShouldEqual, odomStamp.Add(50*time.Millisecond))
}

func TestPublishTFDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.PublishTF = boolPtr(false)
	h := newHarness(t, cfg, nil)

	h.sendFrame(t)
	test.That(t, h.node.Tracked(), test.ShouldBeTrue)
	test.That(t, h.transforms.Len(), test.ShouldEqual, 0)
	_, _, err := h.node.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
}

func TestLandmarksInView(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	h.engine.AddMapPoints(
		r3.Vector{Z: 1},
		r3.Vector{X: 0.1, Z: 2},
		r3.Vector{Y: 0.2, Z: 3},
		r3.Vector{Z: -1},
		r3.Vector{Z: 10},
	)
	query := spatialmath.NewPoseFromPoint(r3.Vector{})

	landmarks, err := h.node.LandmarksInView(context.Background(), query)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(landmarks), test.ShouldEqual, 3)

	clouds := h.landmarks.Messages()
	test.That(t, len(clouds), test.ShouldEqual, 1)
	test.That(t, clouds[0].Size(), test.ShouldEqual, 3)

	echoes := h.landmarksPose.Messages()
	test.That(t, len(echoes), test.ShouldEqual, 1)
	test.That(t, echoes[0].FrameName(), test.ShouldEqual, "map")
	test.That(t, spatialmath.PoseAlmostEqual(echoes[0].Pose(), query), test.ShouldBeTrue)
}

func TestLandmarksInViewPublishFailureDoesNotFailQuery(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	h.engine.AddMapPoints(r3.Vector{Z: 1})
	h.landmarks.Err = context.DeadlineExceeded
	h.landmarksPose.Err = context.DeadlineExceeded

	landmarks, err := h.node.LandmarksInView(context.Background(), spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(landmarks), test.ShouldEqual, 1)
}

// overflowingEngine ignores the landmark limit it is given.
type overflowingEngine struct {
	*fake.Engine
	count int
}

func (e *overflowingEngine) VisibleLandmarks(context.Context, spatialmath.Pose, int, float64, float64) ([]r3.Vector, error) {
	out := make([]r3.Vector, e.count)
	for i := range out {
		out[i] = r3.Vector{X: float64(i)}
	}
	return out, nil
}

func TestLandmarksInViewNeverExceedsMax(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxLandmarks = 4
	engine := &overflowingEngine{Engine: fake.NewEngine(logging.NewTestLogger(t))}
	h := newHarness(t, cfg, engine)

	for _, count := range []int{0, 3, 4, 5, 100} {
		engine.count = count
		landmarks, err := h.node.LandmarksInView(context.Background(), spatialmath.NewZeroPose())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(landmarks), test.ShouldBeLessThanOrEqualTo, 4)
		test.That(t, len(landmarks), test.ShouldEqual, min(count, 4))
	}
}

// coincidentLandmarksEngine reports landmarks that share a position.
type coincidentLandmarksEngine struct {
	*fake.Engine
}

func (e *coincidentLandmarksEngine) VisibleLandmarks(context.Context, spatialmath.Pose, int, float64, float64) ([]r3.Vector, error) {
	return []r3.Vector{{X: 1}, {X: 1}, {X: 2}}, nil
}

func TestLandmarksInViewKeepsCoincidentLandmarks(t *testing.T) {
	engine := &coincidentLandmarksEngine{Engine: fake.NewEngine(logging.NewTestLogger(t))}
	h := newHarness(t, quietConfig(), engine)

	landmarks, err := h.node.LandmarksInView(context.Background(), spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(landmarks), test.ShouldEqual, 3)

	clouds := h.landmarks.Messages()
	test.That(t, len(clouds), test.ShouldEqual, 1)
	test.That(t, clouds[0].Size(), test.ShouldEqual, len(landmarks))
	test.That(t, pointcloud.Points(clouds[0]), test.ShouldResemble, landmarks)
}

func TestLandmarksInViewRejectsInvalidPose(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	ctx := context.Background()

	_, err := h.node.LandmarksInView(ctx, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = h.node.LandmarksInView(ctx, spatialmath.NewPoseFromPoint(r3.Vector{Y: math.Inf(1)}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, h.landmarksPose.Len(), test.ShouldEqual, 0)
}

func TestMapData(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	ctx := context.Background()

	md, err := h.node.MapData(ctx, slam.MapDataRequest{ActiveMapOnly: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.ActiveMapOnly, test.ShouldBeFalse)
	test.That(t, len(md.KeyFrames), test.ShouldEqual, 0)

	for i := 0; i < fake.KeyFrameEvery; i++ {
		h.sendFrame(t)
	}
	kf := int64(1)
	md, err = h.node.MapData(ctx, slam.MapDataRequest{KeyFrameID: &kf})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(md.KeyFrames), test.ShouldEqual, 2)
	test.That(t, len(md.MapPoints), test.ShouldEqual, 4)

	md, err = h.node.MapData(ctx, slam.MapDataRequest{TrackedPointsOnly: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.TrackedPointsOnly, test.ShouldBeTrue)
	test.That(t, len(md.MapPoints), test.ShouldEqual, 0)

	resp, err := h.node.DoCommand(ctx, slam.NewMapDataCommand(false, nil))
	test.That(t, err, test.ShouldBeNil)
	decoded, err := slam.MapDataFromMap(resp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(decoded.MapPoints), test.ShouldEqual, 8)

	_, err = h.node.DoCommand(ctx, map[string]interface{}{"command": "reset"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInertialBypassesEngineLock(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	ctx := context.Background()

	test.That(t, h.node.gateway.sem.Acquire(ctx, 1), test.ShouldBeNil)
	test.That(t, h.node.HandleInertial(ctx, slam.InertialSample{Stamp: start}), test.ShouldBeNil)
	test.That(t, h.engine.BufferedInertial(), test.ShouldEqual, 1)

	// queries wait for the engine and give up with their context
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := h.node.MapData(timeoutCtx, slam.MapDataRequest{})
	test.That(t, err, test.ShouldNotBeNil)
	h.node.gateway.sem.Release(1)
}

func TestConcurrentEntryPointsAreSerialized(t *testing.T) {
	cfg := &config.Config{MapDataPublishFrequencyMs: 5, LandmarkPublishFrequencyMs: 5}
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				stamp := start.Add(time.Duration(w*1000+i) * time.Second)
				_ = h.node.HandleLeftImage(ctx, slam.Image{Stamp: stamp})
				_ = h.node.HandleRightImage(ctx, slam.Image{Stamp: stamp})
				_ = h.node.HandleInertial(ctx, slam.InertialSample{Stamp: stamp})
				_, _ = h.node.MapData(ctx, slam.MapDataRequest{})
				_, _ = h.node.LandmarksInView(ctx, spatialmath.NewZeroPose())
				_, _, _ = h.node.Position(ctx)
			}
		}(w)
	}
	wg.Wait()
	test.That(t, h.node.Tracked(), test.ShouldBeTrue)
	test.That(t, h.engine.Overlaps(), test.ShouldEqual, 0)
}

func TestReentryGuard(t *testing.T) {
	h := newHarness(t, quietConfig(), nil)
	ctx := context.Background()

	h.node.gateway.inside.Store(true)
	res := h.node.gateway.Track(ctx, slam.StereoFrame{Left: slam.Image{Stamp: start}})
	test.That(t, res.OK, test.ShouldBeTrue)
	test.That(t, h.logs.FilterMessageSnippet("concurrent engine access").Len(), test.ShouldEqual, 1)

	h.node.gateway.panicOnReentry = true
	test.That(t, func() { h.node.gateway.Track(ctx, slam.StereoFrame{Left: slam.Image{Stamp: start}}) }, test.ShouldPanic)
	h.node.gateway.panicOnReentry = false
	h.node.gateway.inside.Store(false)
}

func TestClose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	engine := fake.NewEngine(logger)
	node, err := New(quietConfig(), engine, slam.Outputs{}, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	test.That(t, node.Close(ctx), test.ShouldBeNil)
	test.That(t, engine.Closed(), test.ShouldBeTrue)
	test.That(t, node.Close(ctx), test.ShouldBeNil)

	test.That(t, node.HandleLeftImage(ctx, slam.Image{Stamp: start}), test.ShouldEqual, errClosed)
	test.That(t, node.HandleInertial(ctx, slam.InertialSample{}), test.ShouldEqual, errClosed)
	_, err = node.MapData(ctx, slam.MapDataRequest{})
	test.That(t, err, test.ShouldEqual, errClosed)

	_, err = New(quietConfig(), nil, slam.Outputs{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(&config.Config{MapDataPublishFrequencyMs: -1}, engine, slam.Outputs{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
