// Package fake implements a fake slam engine that follows a scripted trajectory and grows a
// synthetic map, plus recording publishers for observing service outputs.
package fake

import (
	"context"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/spatialmath"
)

const (
	// StepSize is how far the camera moves forward on each tracked frame.
	StepSize = 0.1
	// KeyFrameEvery is how many tracked frames separate keyframes.
	KeyFrameEvery = 5
	// pointsPerKeyFrame is how many map points each keyframe triangulates.
	pointsPerKeyFrame = 4
)

var _ = slam.Engine(&Engine{})

// Engine is a fake slam engine. By default every frame tracks: the camera moves StepSize along its
// optical (z) axis per frame, and every KeyFrameEvery frames a keyframe is added along with a few
// map points ahead of the camera. TrackFunc replaces that behavior entirely: the map then only
// changes through AddKeyFrame and AddMapPoints.
type Engine struct {
	// TrackFunc, when set, decides the result of each TrackStereo call.
	TrackFunc func(ctx context.Context, frame slam.StereoFrame) (slam.TrackingResult, error)

	mu        sync.Mutex
	frames    int
	keyFrames []slam.KeyFrame
	points    []slam.MapPoint
	inertial  []slam.InertialSample
	closed    bool

	active   atomic.Int32
	overlaps atomic.Int64
	viewer   bool
	logger   logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithViewer sets whether the engine was asked to show its own viewer window. The fake engine has
// none; it only records and reports the request.
func WithViewer(enabled bool) Option {
	return func(e *Engine) {
		e.viewer = enabled
	}
}

// NewEngine returns a fake engine with an empty map.
func NewEngine(logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	logger.Infow("fake engine created", "viewer", e.viewer)
	return e
}

// Viewer reports whether the engine was created with its viewer enabled.
func (e *Engine) Viewer() bool {
	return e.viewer
}

// enter counts calls that overlap another engine call, which the service must never cause.
func (e *Engine) enter() func() {
	if e.active.Inc() > 1 {
		e.overlaps.Inc()
	}
	return func() { e.active.Dec() }
}

// Overlaps returns how many engine calls started while another was running.
func (e *Engine) Overlaps() int64 {
	return e.overlaps.Load()
}

// TrackStereo tracks a frame, consuming the buffered inertial samples.
func (e *Engine) TrackStereo(ctx context.Context, frame slam.StereoFrame) (slam.TrackingResult, error) {
	defer e.enter()()
	if err := ctx.Err(); err != nil {
		return slam.TrackingResult{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return slam.TrackingResult{}, errors.New("engine is closed")
	}
	e.inertial = e.inertial[:0]
	trackFunc := e.TrackFunc
	e.mu.Unlock()

	if trackFunc != nil {
		return trackFunc(ctx, frame)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames++
	// engines report camera poses as homogeneous matrices
	pose := spatialmath.NewPoseFromMat4(mgl64.Translate3D(0, 0, StepSize*float64(e.frames)))
	e.addKeyFrameLocked(frame, pose)
	return slam.TrackingResult{CameraPose: pose, OK: true}, nil
}

func (e *Engine) addKeyFrameLocked(frame slam.StereoFrame, pose spatialmath.Pose) {
	if len(e.keyFrames) > 0 && e.frames%KeyFrameEvery != 0 {
		return
	}
	id := int64(len(e.keyFrames))
	e.keyFrames = append(e.keyFrames, slam.KeyFrame{ID: id, Stamp: frame.Stamp(), Pose: pose})
	for i := 0; i < pointsPerKeyFrame; i++ {
		// a small square one unit in front of the camera
		offset := r3.Vector{X: float64(i%2) - 0.5, Y: float64(i/2) - 0.5, Z: 1}
		e.points = append(e.points, slam.MapPoint{
			ID:           int64(len(e.points)),
			Position:     spatialmath.TransformPoint(pose, offset),
			Observations: 1,
		})
	}
}

// AddInertial buffers an inertial sample. It is safe to call concurrently with other methods.
func (e *Engine) AddInertial(sample slam.InertialSample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	e.inertial = append(e.inertial, sample)
	return nil
}

// BufferedInertial returns the number of inertial samples waiting for the next frame.
func (e *Engine) BufferedInertial() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inertial)
}

// AddKeyFrame adds a keyframe to the map directly.
func (e *Engine) AddKeyFrame(kf slam.KeyFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyFrames = append(e.keyFrames, kf)
}

// AddMapPoints adds points to the map directly.
func (e *Engine) AddMapPoints(positions ...r3.Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range positions {
		e.points = append(e.points, slam.MapPoint{ID: int64(len(e.points)), Position: p, Observations: 1})
	}
}

// MapData returns the keyframes and points of the map. Only points observed more than once count
// as tracked. With a keyframe id, only the points that keyframe triangulated are returned.
func (e *Engine) MapData(ctx context.Context, req slam.MapDataRequest) (slam.MapSnapshot, error) {
	defer e.enter()()
	if err := ctx.Err(); err != nil {
		return slam.MapSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := slam.MapSnapshot{KeyFrames: append([]slam.KeyFrame(nil), e.keyFrames...)}
	for _, p := range e.points {
		if req.TrackedPointsOnly && p.Observations < 2 {
			continue
		}
		if req.KeyFrameID != nil && p.ID/pointsPerKeyFrame != *req.KeyFrameID {
			continue
		}
		snapshot.MapPoints = append(snapshot.MapPoints, p)
	}
	return snapshot, nil
}

// CurrentMapPoints returns the position of every map point.
func (e *Engine) CurrentMapPoints(ctx context.Context) ([]r3.Vector, error) {
	defer e.enter()()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	positions := make([]r3.Vector, 0, len(e.points))
	for _, p := range e.points {
		positions = append(positions, p.Position)
	}
	return positions, nil
}

// VisibleLandmarks returns the map points within radius of the pose and within fov/2 radians of
// its z axis.
func (e *Engine) VisibleLandmarks(
	ctx context.Context,
	pose spatialmath.Pose,
	maxLandmarks int,
	radius, fov float64,
) ([]r3.Vector, error) {
	defer e.enter()()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	origin := pose.Point()
	axis := spatialmath.TransformPoint(pose, r3.Vector{Z: 1}).Sub(origin)
	var visible []r3.Vector
	for _, p := range e.points {
		if len(visible) >= maxLandmarks {
			break
		}
		ray := p.Position.Sub(origin)
		if ray.Norm() > radius || ray.Norm() == 0 {
			continue
		}
		if math.Abs(float64(ray.Angle(axis))) > fov/2 {
			continue
		}
		visible = append(visible, p.Position)
	}
	return visible, nil
}

// Close closes the engine.
func (e *Engine) Close(ctx context.Context) error {
	defer e.enter()()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.logger.Debugw("fake engine closed", "keyframes", len(e.keyFrames), "map_points", len(e.points))
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
