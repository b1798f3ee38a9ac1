// Package main replays recorded stereo bags through the SLAM service, serves it over gRPC and
// queries running instances.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	pb "go.viam.com/api/service/slam/v1"
	"go.viam.com/utils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.viam.com/stereoslam/config"
	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/pointcloud"
	"go.viam.com/stereoslam/referenceframe"
	"go.viam.com/stereoslam/ros"
	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/services/slam/builtin"
	"go.viam.com/stereoslam/services/slam/fake"
	"go.viam.com/stereoslam/spatialmath"
	rutils "go.viam.com/stereoslam/utils"
)

const (
	flagConfig  = "config"
	flagBag     = "bag"
	flagRate    = "rate"
	flagListen  = "listen"
	flagHold    = "hold"
	flagPCD     = "pcd"
	flagAddress = "address"
	flagName    = "name"
	flagDebug   = "debug"
	flagLogFile = "log-file"
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("stereo-slam"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	return newApp(logger, os.Stdout).RunContext(ctx, args)
}

func newApp(logger logging.Logger, out io.Writer) *cli.App {
	var fileAppender *logging.FileAppender
	return &cli.App{
		Name:            "stereo-slam",
		Usage:           "run and query the stereo SLAM service",
		HideHelpCommand: true,
		Writer:          out,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.PathFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotating it as it grows",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
			}
			if path := c.Path(flagLogFile); path != "" {
				fileAppender = logging.NewFileAppender(path)
				logger.AddAppender(fileAppender)
			}
			return nil
		},
		After: func(*cli.Context) error {
			if fileAppender == nil {
				return nil
			}
			return fileAppender.Close()
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "check a service config",
				ArgsUsage: "--config <file>",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagConfig, Required: true, Usage: "service config `FILE`"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Read(c.Path(flagConfig), logger)
					if err != nil {
						return err
					}
					printf(c.App.Writer, "%s is valid; tracking %s and %s in frame %s",
						c.Path(flagConfig), cfg.LeftImageTopicName(), cfg.RightImageTopicName(), cfg.GlobalFrameName())
					return nil
				},
			},
			{
				Name:  "replay",
				Usage: "replay a bag through the service",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagBag, Required: true, Usage: "ROS bag `FILE` to replay"},
					&cli.PathFlag{Name: flagConfig, Usage: "service config `FILE`; defaults apply when omitted"},
					&cli.Float64Flag{Name: flagRate, Usage: "playback speed relative to the recording; 0 replays as fast as possible"},
					&cli.StringFlag{Name: flagListen, Usage: "serve the SLAM gRPC API on `ADDRESS` while replaying"},
					&cli.BoolFlag{Name: flagHold, Usage: "keep serving after the replay ends until interrupted"},
					&cli.PathFlag{Name: flagPCD, Usage: "write the final map to `FILE` as PCD"},
					&cli.StringFlag{Name: flagName, Value: "stereo", Usage: "service name served over gRPC"},
				},
				Action: func(c *cli.Context) error {
					return replay(c, logger)
				},
			},
			{
				Name:  "query",
				Usage: "print the position and map of a running service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagAddress, Required: true, Usage: "gRPC `ADDRESS` of the service"},
					&cli.StringFlag{Name: flagName, Value: "stereo", Usage: "service name"},
					&cli.PathFlag{Name: flagPCD, Usage: "write the map to `FILE` as PCD"},
				},
				Action: func(c *cli.Context) error {
					return query(c, logger)
				},
			},
		},
	}
}

func printf(w io.Writer, format string, args ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", args...)
}

func loadConfig(path string, logger logging.Logger) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Read(path, logger)
}

// loggingOutputs reports every published message on the debug log, and map sizes on the info log.
// Poses are logged under a sublogger named after the configured pose topic.
func loggingOutputs(logger logging.Logger, cfg *config.Config) slam.Outputs {
	poseLogger := logger.Sublogger(cfg.PoseTopicName())
	return slam.Outputs{
		Transforms: slam.PublisherFunc[*referenceframe.Transform](func(ctx context.Context, tf *referenceframe.Transform) error {
			logger.CDebugw(ctx, "transform", "parent", tf.Parent, "child", tf.Child, "stamp", tf.Stamp)
			return nil
		}),
		Pose: slam.PublisherFunc[*referenceframe.PoseInFrame](func(ctx context.Context, p *referenceframe.PoseInFrame) error {
			poseLogger.CDebugw(ctx, "pose", "frame", p.FrameName(), "point", p.Pose().Point())
			return nil
		}),
		MapData: slam.PublisherFunc[slam.MapData](func(_ context.Context, md slam.MapData) error {
			logger.Infow("map data", "keyframes", len(md.KeyFrames), "map_points", len(md.MapPoints))
			return nil
		}),
		MapPoints: slam.PublisherFunc[pointcloud.PointCloud](func(ctx context.Context, pc pointcloud.PointCloud) error {
			logger.CDebugw(ctx, "map points", "size", pc.Size())
			return nil
		}),
	}
}

func replay(c *cli.Context, logger logging.Logger) error {
	ctx := c.Context
	cfg, err := loadConfig(c.Path(flagConfig), logger)
	if err != nil {
		return err
	}
	if level, ok := cfg.LoggingLevel(); ok && !c.Bool(flagDebug) {
		logger.SetLevel(level)
	}

	bag, err := ros.ReadBag(c.Path(flagBag))
	if err != nil {
		return err
	}
	events, err := ros.LoadEvents(bag, ros.TopicsFromConfig(cfg), logger.Sublogger("bag"))
	if err != nil {
		return err
	}
	logger.Infow("loaded bag", "file", c.Path(flagBag), "events", len(events))

	engine := fake.NewEngine(logger.Sublogger("engine"), fake.WithViewer(cfg.UseVisualization()))
	node, err := builtin.New(cfg, engine, loggingOutputs(logger.Sublogger("outputs"), cfg), logger.Sublogger("slam"))
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(context.Background()); err != nil {
			logger.Errorw("error closing slam service", "error", err)
		}
	}()

	workers := rutils.NewStoppableWorkers(ctx)
	if addr := c.String(flagListen); addr != "" {
		if err := serve(workers, addr, c.String(flagName), node, logger); err != nil {
			return err
		}
	}

	player := ros.NewPlayer(node, events, logger.Sublogger("player"), ros.WithRate(c.Float64(flagRate)))
	if err := player.Play(ctx); err != nil {
		return multierr.Combine(err, workers.Stop())
	}
	report(c.App.Writer, node, logger)

	if path := c.Path(flagPCD); path != "" {
		if err := writeMap(ctx, node, path); err != nil {
			return multierr.Combine(err, workers.Stop())
		}
	}

	if c.String(flagListen) != "" && c.Bool(flagHold) {
		logger.Info("replay finished; serving until interrupted")
		<-ctx.Done()
	}
	return workers.Stop()
}

func serve(workers *rutils.StoppableWorkers, addr, name string, svc slam.Service, logger logging.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(logging.UnaryServerInterceptor))
	pb.RegisterSLAMServiceServer(server, slam.NewRPCServiceServer(name, svc))
	logger.Infow("serving slam service", "address", listener.Addr().String(), "name", name)

	workers.Add(func(context.Context) error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	workers.Add(func(ctx context.Context) error {
		<-ctx.Done()
		server.GracefulStop()
		return nil
	})
	return nil
}

func report(w io.Writer, node *builtin.Node, logger logging.Logger) {
	matched, dropped := node.SyncStats()
	printf(w, "stereo frames: %d matched, %d images dropped", matched, dropped)
	pose, frame, err := node.Position(context.Background())
	if err != nil {
		logger.Warnw("no position after replay", "error", err)
		return
	}
	printPose(w, frame, pose)
}

func printPose(w io.Writer, frame string, pose spatialmath.Pose) {
	pt := pose.Point()
	ov := pose.Orientation().OrientationVectorDegrees()
	printf(w, "%s at (%.3f, %.3f, %.3f) facing (%.3f, %.3f, %.3f) theta %.1f",
		frame, pt.X, pt.Y, pt.Z, ov.OX, ov.OY, ov.OZ, ov.Theta)
}

func writeMap(ctx context.Context, svc slam.Service, path string) error {
	pcd, err := slam.PointCloudMapFull(ctx, svc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pcd, 0o600)
}

func query(c *cli.Context, logger logging.Logger) error {
	ctx := c.Context
	conn, err := grpc.NewClient(c.String(flagAddress),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(logging.UnaryClientInterceptor),
	)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(conn.Close)

	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	client := slam.NewClientFromConn(conn, c.String(flagName), logger)

	pose, frame, err := client.Position(ctx)
	if err != nil {
		return err
	}
	printPose(c.App.Writer, frame, pose)

	md, err := client.MapData(ctx, slam.MapDataRequest{})
	if err != nil {
		return err
	}
	printf(c.App.Writer, "map in %s: %d keyframes, %d map points", md.Header.FrameID, len(md.KeyFrames), len(md.MapPoints))

	landmarks, err := client.LandmarksInView(ctx, pose)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%d landmarks in view", len(landmarks))

	if path := c.Path(flagPCD); path != "" {
		return writeMap(ctx, client, path)
	}
	return nil
}
