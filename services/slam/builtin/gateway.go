package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/spatialmath"
)

// engineGateway serializes all access to the engine. Only inertial samples bypass it.
type engineGateway struct {
	engine slam.Engine
	sem    *semaphore.Weighted
	inside atomic.Bool
	logger logging.Logger

	// set when built with the slamdebug tag
	panicOnReentry bool

	// guarded by sem
	lastCameraPose  spatialmath.Pose
	lastCameraStamp time.Time
}

func newEngineGateway(engine slam.Engine, logger logging.Logger) *engineGateway {
	return &engineGateway{
		engine:         engine,
		sem:            semaphore.NewWeighted(1),
		logger:         logger,
		panicOnReentry: panicOnEngineReentry,
	}
}

// withEngine runs fn while holding the engine exclusively. Waiting gives up when ctx is done.
func (g *engineGateway) withEngine(ctx context.Context, op string, fn func(slam.Engine) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrapf(err, "waiting for the engine to %s", op)
	}
	defer g.sem.Release(1)

	if !g.inside.CompareAndSwap(false, true) {
		msg := fmt.Sprintf("concurrent engine access detected during %s", op)
		if g.panicOnReentry {
			panic(msg)
		}
		g.logger.Error(msg)
	} else {
		defer g.inside.Store(false)
	}
	return fn(g.engine)
}

// Track hands one stereo frame to the engine. Any failure is reported as a frame without a pose.
func (g *engineGateway) Track(ctx context.Context, frame slam.StereoFrame) slam.TrackingResult {
	var result slam.TrackingResult
	err := g.withEngine(ctx, "track", func(engine slam.Engine) error {
		res, err := engine.TrackStereo(ctx, frame)
		if err != nil {
			return err
		}
		if res.OK && (res.CameraPose == nil || !spatialmath.PoseIsFinite(res.CameraPose)) {
			return errors.New("engine reported success with an invalid camera pose")
		}
		result = res
		if res.OK {
			g.lastCameraPose = res.CameraPose
			g.lastCameraStamp = frame.Stamp()
		}
		return nil
	})
	if err != nil {
		g.logger.Debugw("frame not tracked", "stamp", frame.Stamp(), "error", err)
		return slam.TrackingResult{}
	}
	return result
}

// LastCameraPose returns the camera pose of the most recent successful track and its stamp.
func (g *engineGateway) LastCameraPose(ctx context.Context) (spatialmath.Pose, time.Time, bool, error) {
	var (
		pose  spatialmath.Pose
		stamp time.Time
	)
	err := g.withEngine(ctx, "read the camera pose", func(slam.Engine) error {
		pose, stamp = g.lastCameraPose, g.lastCameraStamp
		return nil
	})
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return pose, stamp, pose != nil, nil
}

func (g *engineGateway) SnapshotMap(ctx context.Context, req slam.MapDataRequest) (slam.MapSnapshot, error) {
	var snapshot slam.MapSnapshot
	err := g.withEngine(ctx, "snapshot the map", func(engine slam.Engine) error {
		var err error
		snapshot, err = engine.MapData(ctx, req)
		return err
	})
	return snapshot, err
}

func (g *engineGateway) CurrentMapPoints(ctx context.Context) ([]r3.Vector, error) {
	var points []r3.Vector
	err := g.withEngine(ctx, "read the map points", func(engine slam.Engine) error {
		var err error
		points, err = engine.CurrentMapPoints(ctx)
		return err
	})
	return points, err
}

func (g *engineGateway) VisibleLandmarks(
	ctx context.Context,
	pose spatialmath.Pose,
	maxLandmarks int,
	radius, fov float64,
) ([]r3.Vector, error) {
	var landmarks []r3.Vector
	err := g.withEngine(ctx, "find visible landmarks", func(engine slam.Engine) error {
		var err error
		landmarks, err = engine.VisibleLandmarks(ctx, pose, maxLandmarks, radius, fov)
		return err
	})
	return landmarks, err
}

// AddInertial forwards a sample to the engine without waiting for the engine lock.
func (g *engineGateway) AddInertial(sample slam.InertialSample) error {
	return g.engine.AddInertial(sample)
}

func (g *engineGateway) Close(ctx context.Context) error {
	return g.withEngine(ctx, "close", func(engine slam.Engine) error {
		return engine.Close(ctx)
	})
}
