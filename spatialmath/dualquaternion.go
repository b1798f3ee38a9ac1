package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// dualQuaternion is a rigid transform stored as a unit dual quaternion. The real part is the
// rotation and the dual part is half the translation multiplied by the rotation.
type dualQuaternion struct {
	dualquat.Number
}

func newDualQuaternion(pt r3.Vector, rot quat.Number) *dualQuaternion {
	rot = Normalize(rot)
	return &dualQuaternion{dualquat.Number{
		Real: rot,
		Dual: quat.Mul(quat.Number{Imag: pt.X / 2, Jmag: pt.Y / 2, Kmag: pt.Z / 2}, rot),
	}}
}

// Point returns the translation of the transform.
func (q *dualQuaternion) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(q.Dual, quat.Conj(q.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the rotation of the transform.
func (q *dualQuaternion) Orientation() Orientation {
	rot := Quaternion(q.Real)
	return &rot
}

// Transformation multiplies this dual quaternion by another, i.e. applies `by` in this frame.
func (q *dualQuaternion) Transformation(by dualquat.Number) dualquat.Number {
	// Ensure we are multiplying by a unit dual quaternion
	if vecLen := quat.Abs(by.Real); vecLen != 1 && vecLen != 0 {
		by.Real = quat.Scale(1/vecLen, by.Real)
		by.Dual = quat.Scale(1/vecLen, by.Dual)
	}

	return dualquat.Mul(q.Number, by)
}

// rotate applies the rotation part of the transform to a vector.
func rotate(rot quat.Number, v r3.Vector) r3.Vector {
	r := quat.Mul(quat.Mul(rot, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(rot))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}
