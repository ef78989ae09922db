// Package messages defines the payloads exchanged between nodes over the bus.
package messages

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// metersToMillimeters converts planar poses to the millimeter convention used by spatialmath.
const metersToMillimeters = 1000.0

// ErrEmptyScan denotes a scan without any measurements.
var ErrEmptyScan = errors.New("scan contains no measurements")

// Pose2D is the pose of a robot in the plane.
type Pose2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Theta is measured in radians counter-clockwise from the positive x-axis.
	Theta float64 `json:"theta"`
}

// Compose returns the pose reached by moving by delta from p. The delta is expressed in the
// robot frame at p.
func (p Pose2D) Compose(delta OdometryDelta) Pose2D {
	sin, cos := math.Sincos(p.Theta)
	return Pose2D{
		X:     p.X + cos*delta.DX - sin*delta.DY,
		Y:     p.Y + sin*delta.DX + cos*delta.DY,
		Theta: NormalizeAngle(p.Theta + delta.DTheta),
	}
}

// Between returns the delta that moves p onto q, expressed in the robot frame at p.
func (p Pose2D) Between(q Pose2D) OdometryDelta {
	sin, cos := math.Sincos(p.Theta)
	dx, dy := q.X-p.X, q.Y-p.Y
	return OdometryDelta{
		DX:     cos*dx + sin*dy,
		DY:     -sin*dx + cos*dy,
		DTheta: AngleDiff(p.Theta, q.Theta),
	}
}

// Transform maps a point given in the frame of p into the world frame.
func (p Pose2D) Transform(point r2.Point) r2.Point {
	sin, cos := math.Sincos(p.Theta)
	return r2.Point{
		X: p.X + cos*point.X - sin*point.Y,
		Y: p.Y + sin*point.X + cos*point.Y,
	}
}

// Position returns the translational part of the pose.
func (p Pose2D) Position() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// IsFinite reports whether every component of the pose is a finite number.
func (p Pose2D) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Theta)
}

// SpatialPose converts the planar pose into a spatialmath.Pose. Translation is reported in
// millimeters and the heading as a rotation about +Z.
func (p Pose2D) SpatialPose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.X * metersToMillimeters, Y: p.Y * metersToMillimeters},
		&spatialmath.OrientationVectorDegrees{OZ: 1, Theta: p.Theta * 180 / math.Pi},
	)
}

// OdometryDelta is the relative motion since the previous tick, expressed in the robot frame
// at the previous pose.
type OdometryDelta struct {
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	DTheta float64 `json:"dtheta"`
}

// Translation returns the length of the translational part of the delta.
func (d OdometryDelta) Translation() float64 {
	return math.Hypot(d.DX, d.DY)
}

// Then returns the single delta equivalent to moving by d and then by next.
func (d OdometryDelta) Then(next OdometryDelta) OdometryDelta {
	return Pose2D{}.Between(Pose2D{X: d.DX, Y: d.DY, Theta: d.DTheta}.Compose(next))
}

// IsFinite reports whether every component of the delta is a finite number.
func (d OdometryDelta) IsFinite() bool {
	return isFinite(d.DX) && isFinite(d.DY) && isFinite(d.DTheta)
}

// Measurement is a single range reading of a lidar revolution.
type Measurement struct {
	// Angle is relative to the sensor zero, in radians.
	Angle float64 `json:"angle"`
	// Distance is the measured range in meters.
	Distance float64 `json:"distance"`
	// Strength is the return intensity, when the sensor reports one.
	Strength float64 `json:"strength,omitempty"`
	// Valid is false when the sensor flagged the reading as a non-return.
	Valid bool `json:"valid"`
}

// Point returns the measurement in Cartesian sensor frame coordinates.
func (m Measurement) Point() r2.Point {
	sin, cos := math.Sincos(m.Angle)
	return r2.Point{X: cos * m.Distance, Y: sin * m.Distance}
}

// ScanObservation contains all measurements of one lidar revolution, in the sensor frame.
type ScanObservation struct {
	Measurements []Measurement `json:"measurements"`
}

// NewScanFromPoints builds a scan from Cartesian sensor frame points. Every point becomes a
// valid measurement.
func NewScanFromPoints(points []r2.Point) ScanObservation {
	scan := ScanObservation{Measurements: make([]Measurement, 0, len(points))}
	for _, p := range points {
		scan.Measurements = append(scan.Measurements, Measurement{
			Angle:    math.Atan2(p.Y, p.X),
			Distance: p.Norm(),
			Valid:    true,
		})
	}
	return scan
}

// Validate returns an error when the scan cannot be used for a measurement or map update:
// it is empty, or a measurement holds a non-finite or negative value.
func (s ScanObservation) Validate() error {
	if len(s.Measurements) == 0 {
		return ErrEmptyScan
	}
	for i, m := range s.Measurements {
		if !isFinite(m.Angle) || !isFinite(m.Distance) {
			return errors.Errorf("measurement %d is not finite (angle: %v, distance: %v)", i, m.Angle, m.Distance)
		}
		if m.Distance < 0 {
			return errors.Errorf("measurement %d has negative distance %v", i, m.Distance)
		}
	}
	return nil
}

// Points returns the valid measurements as Cartesian points in the sensor frame, preserving
// scan order.
func (s ScanObservation) Points() []r2.Point {
	points := make([]r2.Point, 0, len(s.Measurements))
	for _, m := range s.Measurements {
		if m.Valid {
			points = append(points, m.Point())
		}
	}
	return points
}

// Clone returns a deep copy of the scan.
func (s ScanObservation) Clone() ScanObservation {
	return ScanObservation{Measurements: append([]Measurement(nil), s.Measurements...)}
}

// ScanOdometry is the combined observation produced by simulators and hardware transports.
type ScanOdometry struct {
	Scan     ScanObservation `json:"scan"`
	Odometry OdometryDelta   `json:"odometry"`
}

// CommandKind enumerates the commands understood by the core.
type CommandKind string

// CommandReset returns the slam engine to its initialized state.
const CommandReset CommandKind = "reset"

// Command is an out of band instruction for processing nodes.
type Command struct {
	Kind CommandKind `json:"kind"`
}

// NormalizeAngle wraps an angle in radians into [-pi, pi).
func NormalizeAngle(angle float64) float64 {
	a := math.Mod(angle+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// AngleDiff returns the shortest signed rotation from alpha to beta, in [-pi, pi).
func AngleDiff(alpha, beta float64) float64 {
	return NormalizeAngle(beta - alpha)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
