package referenceframe

import "github.com/pkg/errors"

// NewIncompatibleFramesError returns an error for chaining transforms whose frames do not meet.
func NewIncompatibleFramesError(child, parent string) error {
	return errors.Errorf("cannot chain transform ending in frame %q with one starting in frame %q", child, parent)
}
