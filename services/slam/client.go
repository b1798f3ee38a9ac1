package slam

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	commonpb "go.viam.com/api/common/v1"
	pb "go.viam.com/api/service/slam/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/services/slam/grpchelper"
	"go.viam.com/stereoslam/spatialmath"
)

// client implements Service over a gRPC connection.
type client struct {
	name   string
	client pb.SLAMServiceClient
	logger logging.Logger
}

// NewClientFromConn constructs a new Client from the connection passed in.
func NewClientFromConn(conn grpc.ClientConnInterface, name string, logger logging.Logger) Service {
	return &client{
		name:   name,
		client: pb.NewSLAMServiceClient(conn),
		logger: logger,
	}
}

// Position creates a request, calls the slam service Position, and parses the response into a Pose and
// the name of the frame it describes.
func (c *client) Position(ctx context.Context) (spatialmath.Pose, string, error) {
	ctx, span := trace.StartSpan(ctx, "slam::client::Position")
	defer span.End()

	req := &pb.GetPositionRequest{
		Name: c.name,
	}

	var header metadata.MD
	resp, err := c.client.GetPosition(ctx, req, grpc.Header(&header))
	if err != nil {
		return nil, "", err
	}

	var frame string
	if values := header.Get(positionFrameMetadataKey); len(values) > 0 {
		frame = values[0]
	}
	return spatialmath.NewPoseFromProtobuf(resp.GetPose()), frame, nil
}

// PointCloudMap creates a request, calls the slam service PointCloudMap and returns a callback
// function which will return the next chunk of the current pointcloud map when called.
func (c *client) PointCloudMap(ctx context.Context) (func() ([]byte, error), error) {
	ctx, span := trace.StartSpan(ctx, "slam::client::PointCloudMap")
	defer span.End()

	return grpchelper.PointCloudMapCallback(ctx, c.name, c.client)
}

func (c *client) MapData(ctx context.Context, req MapDataRequest) (MapData, error) {
	ctx, span := trace.StartSpan(ctx, "slam::client::MapData")
	defer span.End()

	resp, err := c.DoCommand(ctx, NewMapDataCommand(req.TrackedPointsOnly, req.KeyFrameID))
	if err != nil {
		return MapData{}, err
	}
	return MapDataFromMap(resp)
}

func (c *client) LandmarksInView(ctx context.Context, pose spatialmath.Pose) ([]r3.Vector, error) {
	ctx, span := trace.StartSpan(ctx, "slam::client::LandmarksInView")
	defer span.End()

	resp, err := c.DoCommand(ctx, NewLandmarksInViewCommand(pose))
	if err != nil {
		return nil, err
	}
	return LandmarksFromMap(resp)
}

func (c *client) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	ctx, span := trace.StartSpan(ctx, "slam::client::DoCommand")
	defer span.End()

	command, err := structpb.NewStruct(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "encoding DoCommand request")
	}
	resp, err := c.client.DoCommand(ctx, &commonpb.DoCommandRequest{Name: c.name, Command: command})
	if err != nil {
		return nil, err
	}
	return resp.GetResult().AsMap(), nil
}

// Close is a no-op; the connection belongs to the caller.
func (c *client) Close(ctx context.Context) error {
	return nil
}
