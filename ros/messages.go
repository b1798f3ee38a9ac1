package ros

import (
	"image"
	"image/color"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereoslam/services/slam"
	"go.viam.com/stereoslam/spatialmath"
)

// Meta is the record time gobag attaches to every decoded message.
type Meta struct {
	Secs  int64
	Nsecs int64
}

// Time returns the record time.
func (m Meta) Time() time.Time {
	return time.Unix(m.Secs, m.Nsecs)
}

// Header is std_msgs/Header.
type Header struct {
	Seq   uint32
	Stamp struct {
		Secs  int64
		Nsecs int64
	}
	FrameID string `json:"frame_id"`
}

// Time returns the header stamp.
func (h Header) Time() time.Time {
	return time.Unix(h.Stamp.Secs, h.Stamp.Nsecs)
}

// Vector3 is geometry_msgs/Vector3 and geometry_msgs/Point.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vector3) r3() r3.Vector {
	return r3.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

// Quaternion is geometry_msgs/Quaternion.
type Quaternion struct {
	X float64
	Y float64
	Z float64
	W float64
}

// ImageMessage is sensor_msgs/Image as decoded from a bag.
type ImageMessage struct {
	Meta Meta
	Data struct {
		Header      Header
		Height      int
		Width       int
		Encoding    string
		IsBigendian uint8 `json:"is_bigendian"`
		Step        int
		Data        []byte
	}
}

// ToImage converts the message to a service image. mono8, rgb8, bgr8, rgba8 and bgra8 encodings
// are supported.
func (m *ImageMessage) ToImage() (slam.Image, error) {
	d := m.Data
	bpp, ok := bytesPerPixel[d.Encoding]
	if !ok {
		return slam.Image{}, errors.Errorf("unsupported image encoding %q", d.Encoding)
	}
	step := d.Step
	if step == 0 {
		step = d.Width * bpp
	}
	if d.Width <= 0 || d.Height <= 0 || step < d.Width*bpp || len(d.Data) < step*d.Height {
		return slam.Image{}, errors.Errorf("malformed %dx%d %s image with %d bytes", d.Width, d.Height, d.Encoding, len(d.Data))
	}

	rect := image.Rect(0, 0, d.Width, d.Height)
	var img image.Image
	switch d.Encoding {
	case "mono8":
		gray := image.NewGray(rect)
		for y := 0; y < d.Height; y++ {
			copy(gray.Pix[y*gray.Stride:], d.Data[y*step:y*step+d.Width])
		}
		img = gray
	default:
		rgba := image.NewNRGBA(rect)
		for y := 0; y < d.Height; y++ {
			row := d.Data[y*step:]
			for x := 0; x < d.Width; x++ {
				px := row[x*bpp : (x+1)*bpp]
				c := color.NRGBA{A: 255}
				switch d.Encoding {
				case "rgb8", "rgba8":
					c.R, c.G, c.B = px[0], px[1], px[2]
				case "bgr8", "bgra8":
					c.R, c.G, c.B = px[2], px[1], px[0]
				}
				if bpp == 4 {
					c.A = px[3]
				}
				rgba.SetNRGBA(x, y, c)
			}
		}
		img = rgba
	}
	return slam.Image{Stamp: d.Header.Time(), FrameID: d.Header.FrameID, Data: img}, nil
}

var bytesPerPixel = map[string]int{
	"mono8": 1,
	"rgb8":  3,
	"bgr8":  3,
	"rgba8": 4,
	"bgra8": 4,
}

// ImuMessage is sensor_msgs/Imu as decoded from a bag.
type ImuMessage struct {
	Meta Meta
	Data struct {
		Header                       Header
		Orientation                  Quaternion
		OrientationCovariance        [9]float64 `json:"orientation_covariance"`
		AngularVelocity              Vector3    `json:"angular_velocity"`
		AngularVelocityCovariance    [9]float64 `json:"angular_velocity_covariance"`
		LinearAcceleration           Vector3    `json:"linear_acceleration"`
		LinearAccelerationCovariance [9]float64 `json:"linear_acceleration_covariance"`
	}
}

// ToInertialSample converts the message to an inertial sample.
func (m *ImuMessage) ToInertialSample() slam.InertialSample {
	return slam.InertialSample{
		Stamp:              m.Data.Header.Time(),
		LinearAcceleration: m.Data.LinearAcceleration.r3(),
		AngularVelocity:    m.Data.AngularVelocity.r3(),
	}
}

// OdometryMessage is nav_msgs/Odometry as decoded from a bag. Only the pose half is used.
type OdometryMessage struct {
	Meta Meta
	Data struct {
		Header       Header
		ChildFrameID string `json:"child_frame_id"`
		Pose         struct {
			Pose struct {
				Position    Vector3
				Orientation Quaternion
			}
			Covariance [36]float64
		}
	}
}

// ToOdometrySample converts the message to an odometry sample.
func (m *OdometryMessage) ToOdometrySample() slam.OdometrySample {
	p := m.Data.Pose.Pose
	q := p.Orientation
	orientation := &spatialmath.Quaternion{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
	if q == (Quaternion{}) {
		orientation = &spatialmath.Quaternion{Real: 1}
	}
	return slam.OdometrySample{
		Stamp:        m.Data.Header.Time(),
		FrameID:      m.Data.Header.FrameID,
		ChildFrameID: m.Data.ChildFrameID,
		Pose:         spatialmath.NewPose(p.Position.r3(), orientation),
		Covariance:   m.Data.Pose.Covariance,
	}
}
