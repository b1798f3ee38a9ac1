// Package builtin implements the stereo SLAM service around an external localization and mapping
// engine: it pairs stereo images, feeds the engine, tracks whether the engine has localized,
// broadcasts the resulting transforms, and publishes map data on timers.
package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/stereoslam/config"
	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/pointcloud"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/services/slam/stereosync"
	"go.viam.com/stereoslam/spatialmath"
)

const odometryWarningInterval = 4 * time.Second

var errClosed = errors.New("slam service is closed")

// Option configures a Node.
type Option func(*Node)

// WithClock sets the clock used for message stamps and the tracking rate.
func WithClock(clk clock.Clock) Option {
	return func(n *Node) {
		n.clock = clk
	}
}

// Node is the stereo SLAM service. All of its methods are safe to call concurrently.
type Node struct {
	cfg     *config.Config
	outputs slam.Outputs
	clock   clock.Clock
	logger  logging.Logger

	sync      *stereosync.Synchronizer
	gateway   *engineGateway
	state     *trackingState
	composer  *transformComposer
	scheduler *publicationScheduler

	noOdometryMode bool
	publishTF      bool
	odomWarning    rate.Sometimes

	maxLandmarks   int
	landmarkRadius float64
	landmarkFOV    float64

	cancelCtx  context.Context
	cancelFunc context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

var _ slam.Service = (*Node)(nil)

// New builds the service around engine, which it owns from now on, and starts its timers.
func New(cfg *config.Config, engine slam.Engine, outputs slam.Outputs, logger logging.Logger, opts ...Option) (*Node, error) {
	if engine == nil {
		return nil, errors.New("a slam engine is required")
	}
	if err := cfg.Validate("slam"); err != nil {
		return nil, err
	}

	mode := "composed"
	if cfg.UseNoOdometryMode() {
		mode = "direct"
	}
	logger = logger.With("odometry_mode", mode)

	robotX, robotY := cfg.RobotOffset()
	maxLandmarks, radius, fov := cfg.LandmarkQuery()
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	n := &Node{
		cfg:            cfg,
		outputs:        outputs.WithDefaults(),
		clock:          clock.New(),
		logger:         logger,
		noOdometryMode: cfg.UseNoOdometryMode(),
		publishTF:      cfg.ShouldPublishTF(),
		odomWarning:    rate.Sometimes{Interval: odometryWarningInterval},
		maxLandmarks:   maxLandmarks,
		landmarkRadius: radius,
		landmarkFOV:    fov,
		cancelCtx:      cancelCtx,
		cancelFunc:     cancelFunc,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.sync = stereosync.New(cfg.SyncQueue(), cfg.SyncTolerance(), logger.Sublogger("sync"))
	n.gateway = newEngineGateway(engine, logger.Sublogger("engine"))
	n.state = newTrackingState(n.clock)
	n.composer = newTransformComposer(
		cfg.GlobalFrameName(), cfg.OdomFrameName(), cfg.RobotBaseFrameName(),
		robotX, robotY, cfg.BaseInCameraPose(),
	)

	scheduler, err := newPublicationScheduler(cancelCtx, logger.Sublogger("scheduler"))
	if err != nil {
		cancelFunc()
		return nil, err
	}
	n.scheduler = scheduler
	if err := n.scheduler.Add(mapDataTaskName, cfg.MapDataInterval(), n.publishMapData); err != nil {
		cancelFunc()
		return nil, multierr.Combine(err, scheduler.Shutdown())
	}
	if cfg.UseROSVisualization() {
		if err := n.scheduler.Add(mapPointsTaskName, cfg.LandmarkInterval(), n.publishMapPoints); err != nil {
			cancelFunc()
			return nil, multierr.Combine(err, scheduler.Shutdown())
		}
	}
	n.scheduler.Start()

	logger.Infow("stereo slam service started",
		"no_odometry_mode", n.noOdometryMode,
		"publish_tf", n.publishTF,
		"global_frame", cfg.GlobalFrameName(),
		"robot_base_frame", cfg.RobotBaseFrameName(),
	)
	return n, nil
}

// enter registers an in-flight call. The returned function must be called when it finishes.
func (n *Node) enter() (func(), error) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return nil, errClosed
	}
	return n.mu.RUnlock, nil
}

// Tracked reports whether the engine has localized at least once.
func (n *Node) Tracked() bool {
	return n.state.Tracked()
}

// SyncStats returns how many stereo frames were matched and how many images were dropped.
func (n *Node) SyncStats() (int64, int64) {
	return n.sync.Matched(), n.sync.Dropped()
}

// Position returns the latest pose of the robot base in the global frame.
func (n *Node) Position(ctx context.Context) (spatialmath.Pose, string, error) {
	done, err := n.enter()
	if err != nil {
		return nil, "", err
	}
	defer done()

	tf, ok := n.composer.LatestMapToBase()
	if !ok {
		return nil, "", errors.New("robot has not been localized yet")
	}
	return tf.Pose, tf.Child, nil
}

// PointCloudMap returns the current map points as binary PCD chunks.
func (n *Node) PointCloudMap(ctx context.Context) (func() ([]byte, error), error) {
	done, err := n.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	points, err := n.gateway.CurrentMapPoints(ctx)
	if err != nil {
		return nil, err
	}
	cloud, err := pointcloud.NewFromPoints(points)
	if err != nil {
		return nil, err
	}
	return slam.PointCloudChunks(cloud)
}

// DoCommand serves the map data and landmark queries for gRPC clients.
func (n *Node) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, _ := cmd[slam.CommandKey].(string)
	switch name {
	case slam.GetMapDataCommand:
		req, err := slam.ParseMapDataCommand(cmd)
		if err != nil {
			return nil, err
		}
		md, err := n.MapData(ctx, req)
		if err != nil {
			return nil, err
		}
		return slam.MapDataToMap(md), nil
	case slam.GetLandmarksInViewCommand:
		pose, err := slam.ParseLandmarksInViewCommand(cmd)
		if err != nil {
			return nil, err
		}
		landmarks, err := n.LandmarksInView(ctx, pose)
		if err != nil {
			return nil, err
		}
		return slam.LandmarksToMap(landmarks), nil
	default:
		return nil, errors.Errorf("unknown command %q", name)
	}
}

// Close stops accepting input, waits for in-flight calls, stops the timers and closes the engine.
func (n *Node) Close(ctx context.Context) error {
	n.cancelFunc()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	matched, dropped := n.SyncStats()
	n.logger.Infow("closing stereo slam service", "frames_matched", matched, "images_dropped", dropped)

	return multierr.Combine(
		n.scheduler.Shutdown(),
		n.gateway.Close(ctx),
	)
}
