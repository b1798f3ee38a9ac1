// Package pointcloud defines a point cloud and provides an implementation for one.
//
// Clouds published by the SLAM service are sparse, unorganized sets of map points; the basic
// implementation keeps points in insertion order so published clouds are deterministic.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// PointCloud is a general purpose container of points. It does not
// dictate whether or not the cloud is sparse or dense. The current
// basic implementation is sparse however.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData with bounds that any first point will overwrite.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)

	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
}

// NewFromPoints returns a cloud holding the given positions, in order, without data.
func NewFromPoints(points []r3.Vector) (PointCloud, error) {
	cloud := NewWithPrealloc(len(points))
	for _, p := range points {
		if err := cloud.Set(p, nil); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

// NewFromPointSequence returns a cloud with one entry per given position, coincident ones
// included, so its Size always matches len(points).
func NewFromPointSequence(points []r3.Vector) (PointCloud, error) {
	cloud := &basicPointCloud{
		points:   make([]PointAndData, 0, len(points)),
		indexMap: make(map[r3.Vector]int, len(points)),
		meta:     NewMetaData(),
	}
	for _, p := range points {
		if err := checkFinite(p); err != nil {
			return nil, err
		}
		cloud.add(p, nil)
	}
	return cloud, nil
}

// Points returns the positions of the cloud in iteration order.
func Points(cloud PointCloud) []r3.Vector {
	out := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, _ Data) bool {
		out = append(out, p)
		return true
	})
	return out
}
