package builtin

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/stereoslam/referenceframe"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/spatialmath"
)

// transformComposer turns camera poses and odometry into the transforms the service broadcasts.
//
//	map -> base = offset * world -> camera * camera -> base
//	map -> odom = map -> base * (odom -> base)^-1
type transformComposer struct {
	globalFrame  string
	odomFrame    string
	baseFrame    string
	offset       spatialmath.Pose
	baseInCamera spatialmath.Pose

	mu        sync.Mutex
	mapToBase *referenceframe.Transform
	mapToOdom *referenceframe.Transform
}

func newTransformComposer(globalFrame, odomFrame, baseFrame string, robotX, robotY float64,
	baseInCamera spatialmath.Pose,
) *transformComposer {
	return &transformComposer{
		globalFrame:  globalFrame,
		odomFrame:    odomFrame,
		baseFrame:    baseFrame,
		offset:       spatialmath.NewPoseFromPoint(r3.Vector{X: robotX, Y: robotY}),
		baseInCamera: baseInCamera,
	}
}

// MapToBase computes and records the pose of the robot base in the global frame from a camera
// pose in the engine's world frame.
func (tc *transformComposer) MapToBase(cameraPose spatialmath.Pose, stamp time.Time) *referenceframe.Transform {
	pose := spatialmath.Compose(spatialmath.Compose(tc.offset, cameraPose), tc.baseInCamera)
	tf := referenceframe.NewTransform(tc.globalFrame, tc.baseFrame, pose, stamp)
	tc.mu.Lock()
	tc.mapToBase = tf
	tc.mu.Unlock()
	return tf
}

// MapToOdom computes and records the pose of the odometry frame in the global frame so that
// chaining it with the odometry sample lands on mapToBase.
func (tc *transformComposer) MapToOdom(mapToBase *referenceframe.Transform, odom slam.OdometrySample,
) (*referenceframe.Transform, error) {
	odomFrame := odom.FrameID
	if odomFrame == "" {
		odomFrame = tc.odomFrame
	}
	odomToBase := referenceframe.NewTransform(odomFrame, tc.baseFrame, odom.Pose, odom.Stamp)
	tf, err := mapToBase.Compose(odomToBase.Inverse())
	if err != nil {
		return nil, err
	}
	tf.Child = tc.odomFrame
	tf.Stamp = odom.Stamp
	tc.mu.Lock()
	tc.mapToOdom = tf
	tc.mu.Unlock()
	return tf, nil
}

// LatestMapToBase returns the last computed pose of the robot base in the global frame.
func (tc *transformComposer) LatestMapToBase() (*referenceframe.Transform, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.mapToBase, tc.mapToBase != nil
}

// LatestMapToOdom returns the last composed map -> odom transform.
func (tc *transformComposer) LatestMapToOdom() (*referenceframe.Transform, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.mapToOdom, tc.mapToOdom != nil
}
