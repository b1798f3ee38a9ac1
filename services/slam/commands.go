package slam

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	commonpb "go.viam.com/api/common/v1"

	"go.viam.com/stereoslam/spatialmath"
)

// DoCommand keys and command names understood by the service.
const (
	CommandKey                = "command"
	GetMapDataCommand         = "get_map_data"
	GetLandmarksInViewCommand = "get_landmarks_in_view"
)

// positionFrameMetadataKey is the GetPosition response header naming the frame of the pose.
const positionFrameMetadataKey = "slam-position-frame"

// The wire forms below are what DoCommand requests and responses carry. They only hold types
// that survive a round trip through a protobuf Struct: numbers come back as float64 and stamps
// travel as RFC 3339 strings.

type wirePose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	OX    float64 `json:"o_x"`
	OY    float64 `json:"o_y"`
	OZ    float64 `json:"o_z"`
	Theta float64 `json:"theta"`
}

type wireVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type wireKeyFrame struct {
	ID    int64     `json:"id"`
	Stamp time.Time `json:"stamp"`
	Pose  wirePose  `json:"pose"`
}

type wireMapPoint struct {
	ID           int64      `json:"id"`
	Position     wireVector `json:"position"`
	Observations int        `json:"observations"`
}

type wireMapData struct {
	Stamp             time.Time      `json:"stamp"`
	FrameID           string         `json:"frame_id"`
	ActiveMapOnly     bool           `json:"active_map_only"`
	TrackedPointsOnly bool           `json:"tracked_points_only"`
	KeyFrames         []wireKeyFrame `json:"keyframes"`
	MapPoints         []wireMapPoint `json:"map_points"`
}

type mapDataCommand struct {
	TrackedPoints bool   `json:"tracked_points"`
	KeyFrameID    *int64 `json:"kf_id"`
}

type landmarksCommand struct {
	Pose *wirePose `json:"pose"`
}

type landmarksResult struct {
	Landmarks []wireVector `json:"landmarks"`
}

func decodeWire(input, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           result,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func poseToWire(p spatialmath.Pose) map[string]interface{} {
	pb := spatialmath.PoseToProtobuf(p)
	return map[string]interface{}{
		"x": pb.X, "y": pb.Y, "z": pb.Z,
		"o_x": pb.OX, "o_y": pb.OY, "o_z": pb.OZ, "theta": pb.Theta,
	}
}

func poseFromWire(w wirePose) spatialmath.Pose {
	return spatialmath.NewPoseFromProtobuf(&commonpb.Pose{
		X: w.X, Y: w.Y, Z: w.Z, OX: w.OX, OY: w.OY, OZ: w.OZ, Theta: w.Theta,
	})
}

func vectorToWire(v r3.Vector) map[string]interface{} {
	return map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z}
}

func vectorFromWire(w wireVector) r3.Vector {
	return r3.Vector{X: w.X, Y: w.Y, Z: w.Z}
}

// NewMapDataCommand returns the DoCommand request for a full map snapshot.
func NewMapDataCommand(trackedPointsOnly bool, keyFrameID *int64) map[string]interface{} {
	cmd := map[string]interface{}{
		CommandKey:       GetMapDataCommand,
		"tracked_points": trackedPointsOnly,
	}
	if keyFrameID != nil {
		cmd["kf_id"] = *keyFrameID
	}
	return cmd
}

// ParseMapDataCommand decodes a get_map_data DoCommand request. The snapshot always spans every
// map, not only the active one.
func ParseMapDataCommand(cmd map[string]interface{}) (MapDataRequest, error) {
	var parsed mapDataCommand
	if err := decodeWire(cmd, &parsed); err != nil {
		return MapDataRequest{}, errors.Wrap(err, "invalid get_map_data request")
	}
	return MapDataRequest{
		ActiveMapOnly:     false,
		TrackedPointsOnly: parsed.TrackedPoints,
		KeyFrameID:        parsed.KeyFrameID,
	}, nil
}

// MapDataToMap encodes a map message as a DoCommand response.
func MapDataToMap(md MapData) map[string]interface{} {
	return map[string]interface{}{
		"stamp":               md.Header.Stamp.UTC().Format(time.RFC3339Nano),
		"frame_id":            md.Header.FrameID,
		"active_map_only":     md.ActiveMapOnly,
		"tracked_points_only": md.TrackedPointsOnly,
		"keyframes": lo.Map(md.KeyFrames, func(kf KeyFrame, _ int) interface{} {
			return map[string]interface{}{
				"id":    kf.ID,
				"stamp": kf.Stamp.UTC().Format(time.RFC3339Nano),
				"pose":  poseToWire(kf.Pose),
			}
		}),
		"map_points": lo.Map(md.MapPoints, func(mp MapPoint, _ int) interface{} {
			return map[string]interface{}{
				"id":           mp.ID,
				"position":     vectorToWire(mp.Position),
				"observations": mp.Observations,
			}
		}),
	}
}

// MapDataFromMap decodes a DoCommand response produced by MapDataToMap.
func MapDataFromMap(resp map[string]interface{}) (MapData, error) {
	var wire wireMapData
	if err := decodeWire(resp, &wire); err != nil {
		return MapData{}, errors.Wrap(err, "invalid map data response")
	}
	return MapData{
		Header:            Header{Stamp: wire.Stamp, FrameID: wire.FrameID},
		ActiveMapOnly:     wire.ActiveMapOnly,
		TrackedPointsOnly: wire.TrackedPointsOnly,
		KeyFrames: lo.Map(wire.KeyFrames, func(kf wireKeyFrame, _ int) KeyFrame {
			return KeyFrame{ID: kf.ID, Stamp: kf.Stamp, Pose: poseFromWire(kf.Pose)}
		}),
		MapPoints: lo.Map(wire.MapPoints, func(mp wireMapPoint, _ int) MapPoint {
			return MapPoint{ID: mp.ID, Position: vectorFromWire(mp.Position), Observations: mp.Observations}
		}),
	}, nil
}

// NewLandmarksInViewCommand returns the DoCommand request for the landmarks visible from pose.
func NewLandmarksInViewCommand(pose spatialmath.Pose) map[string]interface{} {
	return map[string]interface{}{
		CommandKey: GetLandmarksInViewCommand,
		"pose":     poseToWire(pose),
	}
}

// ParseLandmarksInViewCommand decodes a get_landmarks_in_view DoCommand request.
func ParseLandmarksInViewCommand(cmd map[string]interface{}) (spatialmath.Pose, error) {
	var parsed landmarksCommand
	if err := decodeWire(cmd, &parsed); err != nil {
		return nil, errors.Wrap(err, "invalid get_landmarks_in_view request")
	}
	if parsed.Pose == nil {
		return nil, errors.New("get_landmarks_in_view request is missing a pose")
	}
	return poseFromWire(*parsed.Pose), nil
}

// LandmarksToMap encodes landmark positions as a DoCommand response.
func LandmarksToMap(landmarks []r3.Vector) map[string]interface{} {
	return map[string]interface{}{
		"landmarks": lo.Map(landmarks, func(v r3.Vector, _ int) interface{} {
			return vectorToWire(v)
		}),
	}
}

// LandmarksFromMap decodes a DoCommand response produced by LandmarksToMap.
func LandmarksFromMap(resp map[string]interface{}) ([]r3.Vector, error) {
	var wire landmarksResult
	if err := decodeWire(resp, &wire); err != nil {
		return nil, errors.Wrap(err, "invalid landmarks response")
	}
	return lo.Map(wire.Landmarks, func(w wireVector, _ int) r3.Vector {
		return vectorFromWire(w)
	}), nil
}
