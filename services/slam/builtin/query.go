package builtin

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/stereoslam/pointcloud"
	"go.viam.com/stereoslam/referenceframe"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/spatialmath"
)

// LandmarksInView returns the positions of the map points a camera at pose would see, at most the
// configured maximum. The result is also published as a point cloud together with the queried
// pose; failures to publish do not fail the query.
func (n *Node) LandmarksInView(ctx context.Context, pose spatialmath.Pose) ([]r3.Vector, error) {
	done, err := n.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := validateQueryPose(pose); err != nil {
		return nil, err
	}

	landmarks, err := n.gateway.VisibleLandmarks(ctx, pose, n.maxLandmarks, n.landmarkRadius, n.landmarkFOV)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		n.logger.Warnw("engine failed to find visible landmarks", "error", err)
		landmarks = nil
	}
	if len(landmarks) > n.maxLandmarks {
		landmarks = landmarks[:n.maxLandmarks]
	}
	landmarks = lo.Filter(landmarks, func(v r3.Vector, _ int) bool {
		return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
			!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
	})

	n.publishVisibleLandmarks(ctx, pose, landmarks)
	return landmarks, nil
}

func (n *Node) publishVisibleLandmarks(ctx context.Context, pose spatialmath.Pose, landmarks []r3.Vector) {
	cloud, err := pointcloud.NewFromPointSequence(landmarks)
	if err == nil {
		err = n.outputs.VisibleLandmarks.Publish(ctx, cloud)
	}
	if err != nil {
		n.logger.CDebugw(ctx, "failed to publish visible landmarks", "error", err)
	}

	echo := referenceframe.NewStampedPoseInFrame(n.cfg.GlobalFrameName(), pose, n.clock.Now())
	if err := n.outputs.VisibleLandmarksPose.Publish(ctx, echo); err != nil {
		n.logger.CDebugw(ctx, "failed to publish visible landmarks pose", "error", err)
	}
}

func validateQueryPose(pose spatialmath.Pose) error {
	if pose == nil {
		return errors.New("a pose is required")
	}
	if !spatialmath.PoseIsFinite(pose) {
		return errors.New("pose must have a finite position and a non-degenerate orientation")
	}
	return nil
}

// MapData returns a snapshot spanning every map, not only the active one. An engine without a map
// yet yields an empty message rather than an error.
func (n *Node) MapData(ctx context.Context, req slam.MapDataRequest) (slam.MapData, error) {
	done, err := n.enter()
	if err != nil {
		return slam.MapData{}, err
	}
	defer done()

	req.ActiveMapOnly = false
	snapshot, err := n.gateway.SnapshotMap(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return slam.MapData{}, err
		}
		n.logger.Warnw("engine failed to snapshot the map", "error", err)
		snapshot = slam.MapSnapshot{}
	}
	return slam.NewMapData(slam.Header{Stamp: n.clock.Now(), FrameID: n.cfg.GlobalFrameName()}, req, snapshot), nil
}
