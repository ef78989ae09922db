// Package testhelper contains fixtures that are shared across the tests of the gridslam repo.
package testhelper

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/gridslam"
	"github.com/viam-modules/viam-gridslam/internal/room"
	"github.com/viam-modules/viam-gridslam/messages"
)

const (
	// RoomHalfSize places the walls of the test room at +-1 m.
	RoomHalfSize = 1.0
	// RoomBeams is the number of measurements per revolution in test scans.
	RoomBeams = 180
	// RoomResolution is the grid resolution used by the room scenario.
	RoomResolution = 0.02
	// RoomCells is the width and height of the room grid in cells.
	RoomCells = 150
)

// RoomGrid returns the grid placement for the room scenario, 3x3 m centered on the origin.
func RoomGrid() grid.Config {
	return grid.Config{
		Origin:     r2.Point{X: -1.5, Y: -1.5},
		Resolution: RoomResolution,
		Width:      RoomCells,
		Height:     RoomCells,
	}
}

// SquareRoomScan simulates one revolution of a lidar at pose inside a square room whose walls lie at
// +-halfSize.
func SquareRoomScan(pose messages.Pose2D, halfSize float64, beams int) messages.ScanObservation {
	return room.Scan(pose, halfSize, beams)
}

// SquareRoomPoints returns the cartesian points of SquareRoomScan.
func SquareRoomPoints(pose messages.Pose2D, halfSize float64, beams int) []r2.Point {
	return SquareRoomScan(pose, halfSize, beams).Points()
}

// RoomGraph returns a node graph that replays frames through a splitter into a grid slam node and
// records the results under the default topics.
func RoomGraph(t *testing.T, frames []messages.ScanOdometry, particles int) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Settings: config.Settings{FixedStepSec: 0.1, Seed: 7},
		Nodes: []config.NodeConfig{
			{
				Name: "replay",
				Kind: config.KindReplay,
				Replay: &config.ReplayParams{
					Output: "observation",
					Frames: frames,
				},
			},
			{
				Name: "splitter",
				Kind: config.KindSplitter,
				Splitter: &config.SplitterParams{Splits: []config.Split{
					{Input: "observation", Scan: "scan", Odometry: "odometry"},
				}},
			},
			{
				Name: "slam",
				Kind: config.KindGridSlam,
				GridSlam: &config.GridSlamParams{
					Scan:              "scan",
					Odometry:          "odometry",
					Grid:              RoomGrid(),
					Particles:         particles,
					ResampleThreshold: 0.5,
					MotionNoise:       &gridslam.MotionNoise{Linear: 0, Angular: 0},
				},
			},
			{
				Name:     "recorder",
				Kind:     config.KindRecorder,
				Recorder: &config.RecorderParams{},
			},
		},
	}
	test.That(t, cfg.Validate("test"), test.ShouldBeNil)
	return cfg
}

// StaticFrames returns count identical frames of a robot standing still at the origin of the room.
func StaticFrames(count int) []messages.ScanOdometry {
	scan := SquareRoomScan(messages.Pose2D{}, RoomHalfSize, RoomBeams)
	frames := make([]messages.ScanOdometry, count)
	for i := range frames {
		frames[i] = messages.ScanOdometry{Scan: scan.Clone()}
	}
	return frames
}

// MovingFrames returns count frames of a robot that starts at the origin of the room and moves by
// step before every frame after the first. The poses the scans were taken at are returned too.
func MovingFrames(count int, step messages.OdometryDelta) ([]messages.ScanOdometry, []messages.Pose2D) {
	return room.Frames(count, step, RoomHalfSize, RoomBeams)
}
