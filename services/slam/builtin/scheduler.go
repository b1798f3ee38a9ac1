package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/pointcloud"
	"go.viam.com/stereoslam/services/slam"
)

const (
	mapDataTaskName   = "map_data"
	mapPointsTaskName = "map_points"
)

// publicationScheduler runs the periodic publication tasks. A tick that comes due while the
// previous run of the same task is still going is skipped rather than queued.
//
// Both tasks share publishMu, so at most one of them runs at a time; both also wait on the engine
// lock, so neither overlaps tracking.
type publicationScheduler struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	logger    logging.Logger
	publishMu sync.Mutex

	mu           sync.Mutex
	namesToUUIDs map[string]uuid.UUID
}

func newPublicationScheduler(ctx context.Context, logger logging.Logger) (*publicationScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &publicationScheduler{
		scheduler:    scheduler,
		ctx:          ctx,
		logger:       logger,
		namesToUUIDs: make(map[string]uuid.UUID),
	}, nil
}

// Add schedules task to run every interval.
func (ps *publicationScheduler) Add(name string, interval time.Duration, task func(context.Context)) error {
	if interval <= 0 {
		return errors.Errorf("%s interval must be positive, got %v", name, interval)
	}
	j, err := ps.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { task(ps.ctx) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrapf(err, "scheduling %s", name)
	}
	ps.mu.Lock()
	ps.namesToUUIDs[name] = j.ID()
	ps.mu.Unlock()
	ps.logger.Debugw("scheduled publication task", "name", name, "interval", interval, "id", j.ID())
	return nil
}

// JobIDs returns the id of every scheduled task by name.
func (ps *publicationScheduler) JobIDs() map[string]uuid.UUID {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ids := make(map[string]uuid.UUID, len(ps.namesToUUIDs))
	for name, id := range ps.namesToUUIDs {
		ids[name] = id
	}
	return ids
}

func (ps *publicationScheduler) Start() {
	ps.scheduler.Start()
}

// Shutdown stops the tasks and waits for running ones to return.
func (ps *publicationScheduler) Shutdown() error {
	return ps.scheduler.Shutdown()
}

// ScheduledTasks returns the names of the periodic publication tasks that are running.
func (n *Node) ScheduledTasks() []string {
	ids := n.scheduler.JobIDs()
	names := make([]string, 0, len(ids))
	for _, name := range []string{mapDataTaskName, mapPointsTaskName} {
		if _, ok := ids[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// publishMapData publishes the keyframes and points of the active map and reports the tracking
// rate since the previous publication.
func (n *Node) publishMapData(ctx context.Context) {
	if !n.state.Tracked() {
		return
	}
	if !n.scheduler.publishMu.TryLock() {
		n.logger.Debug("skipping map data publication, another publication is running")
		return
	}
	defer n.scheduler.publishMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, n.cfg.MapDataInterval())
	defer cancel()

	req := slam.MapDataRequest{ActiveMapOnly: true, TrackedPointsOnly: false}
	snapshot, err := n.gateway.SnapshotMap(ctx, req)
	if err != nil {
		n.logger.Debugw("skipping map data publication", "error", err)
		return
	}

	msg := slam.NewMapData(slam.Header{Stamp: n.clock.Now(), FrameID: n.cfg.GlobalFrameName()}, req, snapshot)
	if err := n.outputs.MapData.Publish(ctx, msg); err != nil {
		n.logger.Warnw("failed to publish map data", "error", err)
	}

	count, rate := n.state.frequency.Report()
	n.logger.Infow("tracking rate", "frames_per_sec", rate, "frames", count,
		"keyframes", len(snapshot.KeyFrames), "map_points", snapshot.NumPoints())
}

// publishMapPoints publishes the points of the active map as a point cloud. Nothing is published
// while the map has no points.
func (n *Node) publishMapPoints(ctx context.Context) {
	if !n.state.Tracked() {
		return
	}
	if !n.scheduler.publishMu.TryLock() {
		n.logger.Debug("skipping map point publication, another publication is running")
		return
	}
	defer n.scheduler.publishMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, n.cfg.LandmarkInterval())
	defer cancel()

	points, err := n.gateway.CurrentMapPoints(ctx)
	if err != nil {
		n.logger.Debugw("skipping map point publication", "error", err)
		return
	}
	if len(points) == 0 {
		n.logger.Debug("map has no points yet")
		return
	}
	cloud, err := pointcloud.NewFromPoints(points)
	if err != nil {
		n.logger.Warnw("engine returned invalid map points", "error", err)
		return
	}
	if err := n.outputs.MapPoints.Publish(ctx, cloud); err != nil {
		n.logger.Warnw("failed to publish map points", "error", err)
	}
}
