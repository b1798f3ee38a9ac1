package slam

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	commonpb "go.viam.com/api/common/v1"
	pb "go.viam.com/api/service/slam/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"go.viam.com/stereoslam/spatialmath"
)

// serviceServer implements the SLAMService from the slam proto.
type serviceServer struct {
	pb.UnimplementedSLAMServiceServer
	name string
	svc  Service
}

// NewRPCServiceServer constructs the slam gRPC service server for a single named service.
func NewRPCServiceServer(name string, svc Service) pb.SLAMServiceServer {
	return &serviceServer{name: name, svc: svc}
}

func (server *serviceServer) service(name string) (Service, error) {
	if name != "" && name != server.name {
		return nil, errors.Errorf("no slam service named %q", name)
	}
	return server.svc, nil
}

// GetPosition returns the robot's current Pose according to SLAM. The response message has no
// field for the frame the pose describes, so it is sent as "slam-position-frame" header metadata.
func (server *serviceServer) GetPosition(ctx context.Context, req *pb.GetPositionRequest) (
	*pb.GetPositionResponse, error,
) {
	ctx, span := trace.StartSpan(ctx, "slam::server::GetPosition")
	defer span.End()

	svc, err := server.service(req.Name)
	if err != nil {
		return nil, err
	}

	p, frame, err := svc.Position(ctx)
	if err != nil {
		return nil, err
	}
	if err := grpc.SetHeader(ctx, metadata.Pairs(positionFrameMetadataKey, frame)); err != nil {
		return nil, errors.Wrap(err, "cannot attach the position frame")
	}

	return &pb.GetPositionResponse{Pose: spatialmath.PoseToProtobuf(p)}, nil
}

// GetPointCloudMap returns the current map points in PCD format as a stream of byte chunks.
func (server *serviceServer) GetPointCloudMap(req *pb.GetPointCloudMapRequest,
	stream pb.SLAMService_GetPointCloudMapServer,
) error {
	ctx, span := trace.StartSpan(stream.Context(), "slam::server::GetPointCloudMap")
	defer span.End()

	svc, err := server.service(req.Name)
	if err != nil {
		return err
	}

	f, err := svc.PointCloudMap(ctx)
	if err != nil {
		return errors.Wrap(err, "getting callback function from PointCloudMap encountered an issue")
	}

	for {
		rawChunk, err := f()

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return errors.Wrap(err, "getting data from callback function encountered an issue")
		}

		chunk := &pb.GetPointCloudMapResponse{PointCloudPcdChunk: rawChunk}
		if err := stream.Send(chunk); err != nil {
			return err
		}
	}
}

// DoCommand receives arbitrary commands.
func (server *serviceServer) DoCommand(ctx context.Context,
	req *commonpb.DoCommandRequest,
) (*commonpb.DoCommandResponse, error) {
	ctx, span := trace.StartSpan(ctx, "slam::server::DoCommand")
	defer span.End()

	svc, err := server.service(req.Name)
	if err != nil {
		return nil, err
	}
	result, err := svc.DoCommand(ctx, req.Command.AsMap())
	if err != nil {
		return nil, err
	}
	pbResult, err := structpb.NewStruct(result)
	if err != nil {
		return nil, errors.Wrap(err, "encoding DoCommand result")
	}
	return &commonpb.DoCommandResponse{Result: pbResult}, nil
}
