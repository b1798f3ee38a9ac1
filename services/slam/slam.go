// Package slam defines the stereo SLAM service: the messages flowing between sensors, the
// localization and mapping engine and the outputs, the Engine contract, and the Service API
// exposed over gRPC.
package slam

import (
	"bytes"
	"context"
	"image"
	"io"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereoslam/pointcloud"
	"go.viam.com/stereoslam/referenceframe"
	"go.viam.com/stereoslam/spatialmath"
)

// Names of the service's output channels.
const (
	MapDataTopic              = "map_data"
	MapPointsTopic            = "map_points"
	VisibleLandmarksTopic     = "visible_landmarks"
	VisibleLandmarksPoseTopic = "visible_landmarks_pose"
)

// Image is a single camera image with its capture stamp.
type Image struct {
	Stamp   time.Time
	FrameID string
	Data    image.Image
}

// StereoFrame is a left and right image whose stamps lie within the synchronization tolerance.
type StereoFrame struct {
	Left  Image
	Right Image
}

// Stamp returns the stamp the frame is tracked at, which is the left image's stamp.
func (f StereoFrame) Stamp() time.Time {
	return f.Left.Stamp
}

// InertialSample is one IMU reading.
type InertialSample struct {
	Stamp              time.Time
	LinearAcceleration r3.Vector
	AngularVelocity    r3.Vector
}

// OdometrySample is the pose of the robot (ChildFrameID) in the odometry frame (FrameID).
type OdometrySample struct {
	Stamp        time.Time
	FrameID      string
	ChildFrameID string
	Pose         spatialmath.Pose
	Covariance   [36]float64
}

// TrackingResult is the outcome of tracking a single stereo frame. CameraPose is the pose of
// the left camera in the engine's world frame and is only meaningful when OK is true.
type TrackingResult struct {
	CameraPose spatialmath.Pose
	OK         bool
}

// KeyFrame is a keyframe of the engine's map.
type KeyFrame struct {
	ID    int64
	Stamp time.Time
	Pose  spatialmath.Pose
}

// MapPoint is a triangulated landmark of the engine's map.
type MapPoint struct {
	ID           int64
	Position     r3.Vector
	Observations int
}

// MapDataRequest selects what a map snapshot contains. When KeyFrameID is set, only the map
// points observed by that keyframe are included.
type MapDataRequest struct {
	ActiveMapOnly     bool
	TrackedPointsOnly bool
	KeyFrameID        *int64
}

// MapSnapshot is an immutable copy of the engine's map state.
type MapSnapshot struct {
	KeyFrames []KeyFrame
	MapPoints []MapPoint
}

// NumPoints returns the number of map points in the snapshot.
func (s MapSnapshot) NumPoints() int {
	return len(s.MapPoints)
}

// Header stamps an outbound message and names the frame it is expressed in.
type Header struct {
	Stamp   time.Time
	FrameID string
}

// MapData is the outbound map message built from a MapSnapshot.
type MapData struct {
	Header            Header
	ActiveMapOnly     bool
	TrackedPointsOnly bool
	KeyFrames         []KeyFrame
	MapPoints         []MapPoint
}

// NewMapData builds the map message for a snapshot taken with the given request.
func NewMapData(header Header, req MapDataRequest, snapshot MapSnapshot) MapData {
	return MapData{
		Header:            header,
		ActiveMapOnly:     req.ActiveMapOnly,
		TrackedPointsOnly: req.TrackedPointsOnly,
		KeyFrames:         snapshot.KeyFrames,
		MapPoints:         snapshot.MapPoints,
	}
}

// Engine is the external localization and mapping engine. Implementations need not be safe for
// concurrent use except for AddInertial, which is called without any exclusion while the other
// methods may be running.
type Engine interface {
	// TrackStereo tracks one stereo frame together with any inertial samples buffered since the
	// previous frame.
	TrackStereo(ctx context.Context, frame StereoFrame) (TrackingResult, error)

	// AddInertial buffers an inertial sample for the next TrackStereo call.
	AddInertial(sample InertialSample) error

	// MapData returns a snapshot of the map.
	MapData(ctx context.Context, req MapDataRequest) (MapSnapshot, error)

	// CurrentMapPoints returns the positions of the map points of the active map.
	CurrentMapPoints(ctx context.Context) ([]r3.Vector, error)

	// VisibleLandmarks returns at most maxLandmarks map points that a camera at pose would see,
	// within radius of the camera and inside an angular field of view of fov radians.
	VisibleLandmarks(ctx context.Context, pose spatialmath.Pose, maxLandmarks int, radius, fov float64) ([]r3.Vector, error)

	// Close shuts the engine down.
	Close(ctx context.Context) error
}

// Service is the stereo SLAM service as seen by clients.
type Service interface {
	// Position returns the latest pose of the robot base in the global frame and the name of the
	// robot base frame.
	Position(ctx context.Context) (spatialmath.Pose, string, error)

	// PointCloudMap returns a callback that yields the current map points as binary PCD in chunks,
	// returning io.EOF once the map has been read.
	PointCloudMap(ctx context.Context) (func() ([]byte, error), error)

	// MapData returns the full map, optionally restricted to tracked points or the points of one keyframe.
	MapData(ctx context.Context, req MapDataRequest) (MapData, error)

	// LandmarksInView returns the positions of the landmarks visible from pose.
	LandmarksInView(ctx context.Context, pose spatialmath.Pose) ([]r3.Vector, error)

	DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error)

	Close(ctx context.Context) error
}

// Publisher emits messages on one output channel.
type Publisher[T any] interface {
	Publish(ctx context.Context, msg T) error
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc[T any] func(ctx context.Context, msg T) error

// Publish calls f.
func (f PublisherFunc[T]) Publish(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// NopPublisher returns a Publisher that discards every message.
func NopPublisher[T any]() Publisher[T] {
	return PublisherFunc[T](func(context.Context, T) error { return nil })
}

// Outputs are the sinks the service publishes to. Nil sinks discard their messages.
type Outputs struct {
	Transforms           Publisher[*referenceframe.Transform]
	Pose                 Publisher[*referenceframe.PoseInFrame]
	MapData              Publisher[MapData]
	MapPoints            Publisher[pointcloud.PointCloud]
	VisibleLandmarks     Publisher[pointcloud.PointCloud]
	VisibleLandmarksPose Publisher[*referenceframe.PoseInFrame]
}

// WithDefaults returns a copy of the outputs where every nil sink discards its messages.
func (o Outputs) WithDefaults() Outputs {
	if o.Transforms == nil {
		o.Transforms = NopPublisher[*referenceframe.Transform]()
	}
	if o.Pose == nil {
		o.Pose = NopPublisher[*referenceframe.PoseInFrame]()
	}
	if o.MapData == nil {
		o.MapData = NopPublisher[MapData]()
	}
	if o.MapPoints == nil {
		o.MapPoints = NopPublisher[pointcloud.PointCloud]()
	}
	if o.VisibleLandmarks == nil {
		o.VisibleLandmarks = NopPublisher[pointcloud.PointCloud]()
	}
	if o.VisibleLandmarksPose == nil {
		o.VisibleLandmarksPose = NopPublisher[*referenceframe.PoseInFrame]()
	}
	return o
}

const chunkSizeBytes = 64 * 1024

// PointCloudChunks encodes the cloud as binary PCD and returns a callback yielding it in chunks
// of at most 64KiB, then io.EOF.
func PointCloudChunks(cloud pointcloud.PointCloud) (func() ([]byte, error), error) {
	var buf bytes.Buffer
	if err := pointcloud.ToPCD(cloud, &buf, pointcloud.PCDBinary); err != nil {
		return nil, err
	}
	reader := bytes.NewReader(buf.Bytes())
	return func() ([]byte, error) {
		chunk := make([]byte, chunkSizeBytes)
		n, err := reader.Read(chunk)
		if err != nil {
			return nil, err
		}
		return chunk[:n], nil
	}, nil
}

// PointCloudMapFull reads every chunk of a PointCloudMap callback and returns the whole PCD.
func PointCloudMapFull(ctx context.Context, svc Service) ([]byte, error) {
	next, err := svc.PointCloudMap(ctx)
	if err != nil {
		return nil, err
	}
	var full []byte
	for {
		chunk, err := next()
		if errors.Is(err, io.EOF) {
			return full, nil
		}
		if err != nil {
			return nil, err
		}
		full = append(full, chunk...)
	}
}
