package nodes

import (
	"context"
	"time"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/messages"
)

// trajectoryLimit bounds the recorded trajectory; older poses are dropped first.
const trajectoryLimit = 1 << 16

// Recorder keeps the latest pose and map published on its topics along with the trajectory of
// poses. It is the consumer the session reads its results from.
type Recorder struct {
	name string
	pose *bus.Subscription[messages.Pose2D]
	grid *bus.Subscription[messages.OccupancyGridSnapshot]

	latestPose messages.Pose2D
	latestMap  messages.OccupancyGridSnapshot
	hasPose    bool
	hasMap     bool
	trajectory []messages.Pose2D
}

func newRecorder(name string, params *config.RecorderParams, b *bus.Bus) (*Recorder, error) {
	pose, err := bus.NewSubscription[messages.Pose2D](b, params.Pose)
	if err != nil {
		return nil, err
	}
	grid, err := bus.NewSubscription[messages.OccupancyGridSnapshot](b, params.Map)
	if err != nil {
		return nil, err
	}
	return &Recorder{name: name, pose: pose, grid: grid}, nil
}

// Name returns the node name.
func (r *Recorder) Name() string { return r.name }

// Bindings returns the pose and map topics.
func (r *Recorder) Bindings() []bus.Binding { return bindings(r.pose, r.grid) }

// Step stores whatever was published this tick.
func (r *Recorder) Step(ctx context.Context, dt time.Duration) error {
	if pose, ok := r.pose.Latest(); ok {
		r.latestPose = pose
		r.hasPose = true
		if len(r.trajectory) == trajectoryLimit {
			r.trajectory = append(r.trajectory[:0], r.trajectory[1:]...)
		}
		r.trajectory = append(r.trajectory, pose)
	}
	if m, ok := r.grid.Latest(); ok {
		r.latestMap = m
		r.hasMap = true
	}
	return nil
}

// Pose returns the latest recorded pose. The second value is false if none was seen yet.
func (r *Recorder) Pose() (messages.Pose2D, bool) {
	return r.latestPose, r.hasPose
}

// Map returns the latest recorded map. The second value is false if none was seen yet.
func (r *Recorder) Map() (messages.OccupancyGridSnapshot, bool) {
	return r.latestMap, r.hasMap
}

// PoseCount returns how many poses the trajectory holds.
func (r *Recorder) PoseCount() int {
	return len(r.trajectory)
}

// Trajectory returns a copy of the recorded poses, oldest first.
func (r *Recorder) Trajectory() []messages.Pose2D {
	return append([]messages.Pose2D(nil), r.trajectory...)
}
