package builtin

import (
	"context"

	"go.viam.com/stereoslam/referenceframe"
	"go.viam.com/stereoslam/services/slam"
)

// HandleLeftImage accepts an image from the left camera.
func (n *Node) HandleLeftImage(ctx context.Context, img slam.Image) error {
	done, err := n.enter()
	if err != nil {
		return err
	}
	defer done()

	if frame, ok := n.sync.AddLeft(img); ok {
		n.handleFrame(ctx, frame)
	}
	return nil
}

// HandleRightImage accepts an image from the right camera.
func (n *Node) HandleRightImage(ctx context.Context, img slam.Image) error {
	done, err := n.enter()
	if err != nil {
		return err
	}
	defer done()

	if frame, ok := n.sync.AddRight(img); ok {
		n.handleFrame(ctx, frame)
	}
	return nil
}

// HandleInertial forwards an inertial sample straight to the engine.
func (n *Node) HandleInertial(ctx context.Context, sample slam.InertialSample) error {
	done, err := n.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := n.gateway.AddInertial(sample); err != nil {
		n.logger.CDebugw(ctx, "engine rejected inertial sample", "stamp", sample.Stamp, "error", err)
	}
	return nil
}

// HandleOdometry composes map -> odom from the sample and the last tracked pose when odometry is in
// use. The result is broadcast after the next successful track, not here. Otherwise the sample is
// ignored with an occasional warning.
func (n *Node) HandleOdometry(ctx context.Context, sample slam.OdometrySample) error {
	done, err := n.enter()
	if err != nil {
		return err
	}
	defer done()

	if n.noOdometryMode || !n.publishTF {
		n.odomWarning.Do(func() {
			n.logger.Warn("odometry received but no_odometry_mode is true or publish_tf is false; " +
				"set no_odometry_mode to false to use odometry")
		})
		return nil
	}
	if !n.state.Tracked() {
		return nil
	}

	cameraPose, stamp, ok, err := n.gateway.LastCameraPose(ctx)
	if err != nil || !ok {
		return nil
	}
	if _, err := n.composer.MapToOdom(n.composer.MapToBase(cameraPose, stamp), sample); err != nil {
		n.logger.CDebugw(ctx, "cannot compose map to odom", "error", err)
	}
	return nil
}

func (n *Node) handleFrame(ctx context.Context, frame slam.StereoFrame) {
	res := n.gateway.Track(ctx, frame)
	if !n.state.Observe(res) {
		return
	}

	mapToBase := n.composer.MapToBase(res.CameraPose, frame.Stamp())
	if err := n.outputs.Pose.Publish(ctx,
		referenceframe.NewStampedPoseInFrame(mapToBase.Parent, mapToBase.Pose, mapToBase.Stamp)); err != nil {
		n.logger.CDebugw(ctx, "failed to publish pose", "error", err)
	}

	if !n.publishTF {
		return
	}
	if n.noOdometryMode {
		n.broadcast(ctx, mapToBase)
		return
	}
	if mapToOdom, ok := n.composer.LatestMapToOdom(); ok {
		n.broadcast(ctx, mapToOdom)
	}
}

func (n *Node) broadcast(ctx context.Context, tf *referenceframe.Transform) {
	if err := tf.Validate(); err != nil {
		n.logger.Errorw("not broadcasting invalid transform", "error", err)
		return
	}
	if err := n.outputs.Transforms.Publish(ctx, tf); err != nil {
		n.logger.CDebugw(ctx, "failed to broadcast transform", "parent", tf.Parent, "child", tf.Child, "error", err)
	}
}
