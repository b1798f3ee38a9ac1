package referenceframe

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereoslam/spatialmath"
)

// Transform is the stamped pose of a child frame expressed in its parent frame. It is what a
// transform broadcaster publishes, e.g. map -> odom or map -> base_link.
type Transform struct {
	Stamp  time.Time
	Parent string
	Child  string
	Pose   spatialmath.Pose
}

// NewTransform returns the transform of child in parent at the given stamp.
func NewTransform(parent, child string, pose spatialmath.Pose, stamp time.Time) *Transform {
	return &Transform{Stamp: stamp, Parent: parent, Child: child, Pose: pose}
}

// Inverse returns the transform of the parent expressed in the child frame.
func (tf *Transform) Inverse() *Transform {
	return NewTransform(tf.Child, tf.Parent, spatialmath.PoseInverse(tf.Pose), tf.Stamp)
}

// Compose chains this transform (A -> B) with next (B -> C) into A -> C. The result carries the
// later of the two stamps.
func (tf *Transform) Compose(next *Transform) (*Transform, error) {
	if tf.Child != next.Parent {
		return nil, NewIncompatibleFramesError(tf.Child, next.Parent)
	}
	stamp := tf.Stamp
	if next.Stamp.After(stamp) {
		stamp = next.Stamp
	}
	return NewTransform(tf.Parent, next.Child, spatialmath.Compose(tf.Pose, next.Pose), stamp), nil
}

// Validate returns an error if the transform does not name both frames or has no pose.
func (tf *Transform) Validate() error {
	switch {
	case tf.Parent == "":
		return errors.New("transform is missing a parent frame")
	case tf.Child == "":
		return errors.New("transform is missing a child frame")
	case tf.Parent == tf.Child:
		return errors.Errorf("transform parent and child are both %q", tf.Parent)
	case !spatialmath.PoseIsFinite(tf.Pose):
		return errors.Errorf("transform %s -> %s has a non-finite pose", tf.Parent, tf.Child)
	}
	return nil
}
