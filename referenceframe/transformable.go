// Package referenceframe names the coordinate frames poses are expressed in and the stamped
// transforms between them.
package referenceframe

import (
	"time"

	commonpb "go.viam.com/api/common/v1"

	"go.viam.com/stereoslam/spatialmath"
)

// PoseInFrame is a data structure that packages a pose with the name of the
// frame in which it was observed.
type PoseInFrame struct {
	frame string
	pose  spatialmath.Pose
	stamp time.Time
}

// NewPoseInFrame generates a new PoseInFrame.
func NewPoseInFrame(frame string, pose spatialmath.Pose) *PoseInFrame {
	return &PoseInFrame{
		frame: frame,
		pose:  pose,
	}
}

// NewStampedPoseInFrame generates a new PoseInFrame observed at the given time.
func NewStampedPoseInFrame(frame string, pose spatialmath.Pose, stamp time.Time) *PoseInFrame {
	return &PoseInFrame{
		frame: frame,
		pose:  pose,
		stamp: stamp,
	}
}

// FrameName returns the name of the frame in which the pose was observed.
func (pF *PoseInFrame) FrameName() string {
	return pF.frame
}

// Pose returns the pose that was observed.
func (pF *PoseInFrame) Pose() spatialmath.Pose {
	return pF.pose
}

// Stamp returns the time the pose was observed at. It is the zero time for unstamped poses.
func (pF *PoseInFrame) Stamp() time.Time {
	return pF.stamp
}

// AlmostEqual reports whether both poses are in the same frame and approximately equal.
func (pF *PoseInFrame) AlmostEqual(other *PoseInFrame) bool {
	return pF.FrameName() == other.FrameName() && spatialmath.PoseAlmostEqual(pF.Pose(), other.Pose())
}

// PoseInFrameToProtobuf converts a PoseInFrame struct to a
// PoseInFrame message as specified in common.proto.
func PoseInFrameToProtobuf(framedPose *PoseInFrame) *commonpb.PoseInFrame {
	poseProto := spatialmath.PoseToProtobuf(framedPose.pose)
	return &commonpb.PoseInFrame{
		ReferenceFrame: framedPose.frame,
		Pose:           poseProto,
	}
}

// ProtobufToPoseInFrame converts a PoseInFrame message as specified in
// common.proto to a PoseInFrame struct.
func ProtobufToPoseInFrame(proto *commonpb.PoseInFrame) *PoseInFrame {
	return NewPoseInFrame(proto.GetReferenceFrame(), spatialmath.NewPoseFromProtobuf(proto.GetPose()))
}
