// Package config defines the configuration of the stereo SLAM service and how it is read from disk.
package config

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/stereoslam/logging"
	"go.viam.com/stereoslam/spatialmath"
)

// Default values of every option. They apply whenever the option is absent from the config.
const (
	DefaultLeftImageTopic             = "left/image_raw"
	DefaultRightImageTopic            = "right/image_raw"
	DefaultImuTopic                   = "imu"
	DefaultOdomTopic                  = "odom"
	DefaultPoseTopic                  = "pose"
	DefaultRobotBaseFrame             = "base_link"
	DefaultGlobalFrame                = "map"
	DefaultOdomFrame                  = "odom"
	DefaultRobotX                     = 1.0
	DefaultRobotY                     = 1.0
	DefaultNoOdometryMode             = true
	DefaultPublishTF                  = true
	DefaultVisualization              = true
	DefaultROSVisualization           = true
	DefaultMapDataPublishFrequencyMs  = 1000
	DefaultLandmarkPublishFrequencyMs = 1000
	DefaultSyncQueueSize              = 10
	DefaultSyncToleranceMs            = 50
	DefaultMaxLandmarks               = 1000
	DefaultLandmarkRadius             = 5.0
	DefaultLandmarkFOV                = 2.0
)

// PoseConfig is a pose written with an orientation vector in degrees.
type PoseConfig struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	OX    float64 `json:"o_x"`
	OY    float64 `json:"o_y"`
	OZ    float64 `json:"o_z"`
	Theta float64 `json:"theta"`
}

// Pose converts the config to a pose. A config with a zero orientation vector means no rotation.
func (pc *PoseConfig) Pose() spatialmath.Pose {
	if pc == nil {
		return spatialmath.NewZeroPose()
	}
	ov := &spatialmath.OrientationVectorDegrees{OX: pc.OX, OY: pc.OY, OZ: pc.OZ, Theta: pc.Theta}
	if pc.OX == 0 && pc.OY == 0 && pc.OZ == 0 {
		ov.OZ = 1
	}
	return spatialmath.NewPose(r3.Vector{X: pc.X, Y: pc.Y, Z: pc.Z}, ov)
}

// Config is the configuration of the stereo SLAM service. Option names follow the parameters of
// the ROS stereo node so existing launch configurations carry over.
type Config struct {
	LeftImageTopic  string `json:"left_image_topic_name,omitempty"`
	RightImageTopic string `json:"right_image_topic_name,omitempty"`
	ImuTopic        string `json:"imu_topic_name,omitempty"`
	OdomTopic       string `json:"odom_topic_name,omitempty"`
	PoseTopic       string `json:"pose_topic_name,omitempty"`

	Visualization    *bool `json:"visualization,omitempty"`
	ROSVisualization *bool `json:"ros_visualization,omitempty"`

	RobotBaseFrame string   `json:"robot_base_frame,omitempty"`
	GlobalFrame    string   `json:"global_frame,omitempty"`
	OdomFrame      string   `json:"odom_frame,omitempty"`
	RobotX         *float64 `json:"robot_x,omitempty"`
	RobotY         *float64 `json:"robot_y,omitempty"`

	// BaseInCamera is the pose of the robot base in the left camera frame.
	BaseInCamera *PoseConfig `json:"base_in_camera,omitempty"`

	NoOdometryMode *bool `json:"no_odometry_mode,omitempty"`
	PublishTF      *bool `json:"publish_tf,omitempty"`

	MapDataPublishFrequencyMs  int `json:"map_data_publish_frequency,omitempty"`
	LandmarkPublishFrequencyMs int `json:"landmark_publish_frequency,omitempty"`

	SyncQueueSize   int     `json:"sync_queue_size,omitempty"`
	SyncToleranceMs float64 `json:"sync_tolerance_ms,omitempty"`

	MaxLandmarks   int     `json:"max_landmarks,omitempty"`
	LandmarkRadius float64 `json:"landmark_radius,omitempty"`
	LandmarkFOV    float64 `json:"landmark_fov,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.MapDataPublishFrequencyMs < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("map_data_publish_frequency must be positive, got %d", c.MapDataPublishFrequencyMs))
	}
	if c.LandmarkPublishFrequencyMs < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("landmark_publish_frequency must be positive, got %d", c.LandmarkPublishFrequencyMs))
	}
	if c.SyncQueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("sync_queue_size must be positive, got %d", c.SyncQueueSize))
	}
	if c.SyncToleranceMs < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("sync_tolerance_ms must be positive, got %v", c.SyncToleranceMs))
	}
	if c.MaxLandmarks < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_landmarks must be positive, got %d", c.MaxLandmarks))
	}
	if c.LandmarkRadius < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("landmark_radius must be positive, got %v", c.LandmarkRadius))
	}
	if c.LandmarkFOV < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("landmark_fov must be positive, got %v", c.LandmarkFOV))
	}

	frames := map[string]string{
		"global_frame":     c.GlobalFrameName(),
		"odom_frame":       c.OdomFrameName(),
		"robot_base_frame": c.RobotBaseFrameName(),
	}
	seen := map[string]string{}
	for _, field := range []string{"global_frame", "odom_frame", "robot_base_frame"} {
		name := frames[field]
		if other, ok := seen[name]; ok {
			return utils.NewConfigValidationError(path, errors.Errorf("%s and %s are both %q", other, field, name))
		}
		seen[name] = field
	}

	if c.BaseInCamera != nil && !spatialmath.PoseIsFinite(c.BaseInCamera.Pose()) {
		return utils.NewConfigValidationError(path, errors.New("base_in_camera is not a finite pose"))
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func floatOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// LeftImageTopicName returns the channel left images arrive on.
func (c *Config) LeftImageTopicName() string {
	return stringOr(c.LeftImageTopic, DefaultLeftImageTopic)
}

// RightImageTopicName returns the channel right images arrive on.
func (c *Config) RightImageTopicName() string {
	return stringOr(c.RightImageTopic, DefaultRightImageTopic)
}

// ImuTopicName returns the channel inertial samples arrive on.
func (c *Config) ImuTopicName() string { return stringOr(c.ImuTopic, DefaultImuTopic) }

// OdomTopicName returns the channel odometry arrives on.
func (c *Config) OdomTopicName() string { return stringOr(c.OdomTopic, DefaultOdomTopic) }

// PoseTopicName returns the channel the robot pose is published on.
func (c *Config) PoseTopicName() string { return stringOr(c.PoseTopic, DefaultPoseTopic) }

// RobotBaseFrameName returns the frame of the robot base.
func (c *Config) RobotBaseFrameName() string {
	return stringOr(c.RobotBaseFrame, DefaultRobotBaseFrame)
}

// GlobalFrameName returns the frame of the map.
func (c *Config) GlobalFrameName() string { return stringOr(c.GlobalFrame, DefaultGlobalFrame) }

// OdomFrameName returns the frame odometry is expressed in.
func (c *Config) OdomFrameName() string { return stringOr(c.OdomFrame, DefaultOdomFrame) }

// RobotOffset returns the initial x and y position of the robot in the global frame.
func (c *Config) RobotOffset() (float64, float64) {
	x, y := DefaultRobotX, DefaultRobotY
	if c.RobotX != nil {
		x = *c.RobotX
	}
	if c.RobotY != nil {
		y = *c.RobotY
	}
	return x, y
}

// BaseInCameraPose returns the pose of the robot base in the left camera frame.
func (c *Config) BaseInCameraPose() spatialmath.Pose { return c.BaseInCamera.Pose() }

// UseNoOdometryMode reports whether transforms come straight from the camera pose rather than
// being composed with odometry.
func (c *Config) UseNoOdometryMode() bool { return boolOr(c.NoOdometryMode, DefaultNoOdometryMode) }

// ShouldPublishTF reports whether transforms are broadcast.
func (c *Config) ShouldPublishTF() bool { return boolOr(c.PublishTF, DefaultPublishTF) }

// UseVisualization reports whether the engine's own viewer is enabled.
func (c *Config) UseVisualization() bool { return boolOr(c.Visualization, DefaultVisualization) }

// UseROSVisualization reports whether the map point cloud is published periodically.
func (c *Config) UseROSVisualization() bool {
	return boolOr(c.ROSVisualization, DefaultROSVisualization)
}

// MapDataInterval returns the period of the map data publication.
func (c *Config) MapDataInterval() time.Duration {
	return time.Duration(intOr(c.MapDataPublishFrequencyMs, DefaultMapDataPublishFrequencyMs)) * time.Millisecond
}

// LandmarkInterval returns the period of the map point cloud publication.
func (c *Config) LandmarkInterval() time.Duration {
	return time.Duration(intOr(c.LandmarkPublishFrequencyMs, DefaultLandmarkPublishFrequencyMs)) * time.Millisecond
}

// SyncQueue returns the number of unmatched images kept per camera.
func (c *Config) SyncQueue() int { return intOr(c.SyncQueueSize, DefaultSyncQueueSize) }

// SyncTolerance returns the largest stamp difference between a left and right image of one frame.
func (c *Config) SyncTolerance() time.Duration {
	return time.Duration(floatOr(c.SyncToleranceMs, DefaultSyncToleranceMs) * float64(time.Millisecond))
}

// LandmarkQuery returns the maximum count, radius and field of view of landmark visibility queries.
func (c *Config) LandmarkQuery() (int, float64, float64) {
	return intOr(c.MaxLandmarks, DefaultMaxLandmarks),
		floatOr(c.LandmarkRadius, DefaultLandmarkRadius),
		floatOr(c.LandmarkFOV, DefaultLandmarkFOV)
}

// LoggingLevel returns the configured log level, or false when the config leaves it unset.
func (c *Config) LoggingLevel() (logging.Level, bool) {
	if c.LogLevel == "" {
		return logging.INFO, false
	}
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO, false
	}
	return level, true
}
