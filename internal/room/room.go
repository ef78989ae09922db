// Package room simulates a lidar inside an empty square room.
package room

import (
	"math"

	"github.com/viam-modules/viam-gridslam/messages"
)

// Scan simulates one revolution of a lidar at pose inside a square room whose walls lie at
// +-halfSize. Beam angles are spaced evenly, starting at zero, and are relative to the robot heading.
func Scan(pose messages.Pose2D, halfSize float64, beams int) messages.ScanObservation {
	scan := messages.ScanObservation{Measurements: make([]messages.Measurement, 0, beams)}
	for i := 0; i < beams; i++ {
		angle := 2 * math.Pi * float64(i) / float64(beams)
		scan.Measurements = append(scan.Measurements, messages.Measurement{
			Angle:    angle,
			Distance: distanceToWall(pose, pose.Theta+angle, halfSize),
			Strength: 1,
			Valid:    true,
		})
	}
	return scan
}

// Frames returns count frames of a robot that starts at the origin of the room and moves by step
// before every frame after the first. The poses the scans were taken at are returned too.
func Frames(count int, step messages.OdometryDelta, halfSize float64, beams int) ([]messages.ScanOdometry, []messages.Pose2D) {
	frames := make([]messages.ScanOdometry, count)
	poses := make([]messages.Pose2D, count)
	var pose messages.Pose2D
	for i := range frames {
		var odometry messages.OdometryDelta
		if i > 0 {
			odometry = step
			pose = pose.Compose(step)
		}
		poses[i] = pose
		frames[i] = messages.ScanOdometry{
			Scan:     Scan(pose, halfSize, beams),
			Odometry: odometry,
		}
	}
	return frames, poses
}

func distanceToWall(pose messages.Pose2D, heading, halfSize float64) float64 {
	sin, cos := math.Sincos(heading)
	best := math.Inf(1)
	for _, wall := range []struct{ pos, dir, offset float64 }{
		{halfSize, cos, pose.X},
		{-halfSize, cos, pose.X},
		{halfSize, sin, pose.Y},
		{-halfSize, sin, pose.Y},
	} {
		if wall.dir == 0 {
			continue
		}
		if t := (wall.pos - wall.offset) / wall.dir; t > 0 && t < best {
			best = t
		}
	}
	return best
}
