package facade

import (
	"context"
	"sync"
	"time"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/messages"
)

// Mock represents a fake instance of a facade.
type Mock struct {
	*Facade
	StartFunc        func(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup)
	TickFunc         func(ctx context.Context, timeout time.Duration) (uint64, error)
	PositionFunc     func(ctx context.Context, timeout time.Duration) (messages.Pose2D, error)
	GridMapFunc      func(ctx context.Context, timeout time.Duration) (messages.OccupancyGridSnapshot, error)
	QueueCommandFunc func(ctx context.Context, timeout time.Duration, cmd messages.Command) error
	TicksFunc        func(ctx context.Context, timeout time.Duration) (uint64, error)
	TopicsFunc       func(ctx context.Context, timeout time.Duration) ([]bus.TopicInfo, error)
	TrajectoryFunc   func(ctx context.Context, timeout time.Duration) ([]messages.Pose2D, error)
}

// Start calls the injected StartFunc or the real version.
func (m *Mock) Start(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup) {
	if m.StartFunc == nil {
		m.Facade.Start(ctx, activeBackgroundWorkers)
		return
	}
	m.StartFunc(ctx, activeBackgroundWorkers)
}

// Tick calls the injected TickFunc or the real version.
func (m *Mock) Tick(ctx context.Context, timeout time.Duration) (uint64, error) {
	if m.TickFunc == nil {
		return m.Facade.Tick(ctx, timeout)
	}
	return m.TickFunc(ctx, timeout)
}

// Position calls the injected PositionFunc or the real version.
func (m *Mock) Position(ctx context.Context, timeout time.Duration) (messages.Pose2D, error) {
	if m.PositionFunc == nil {
		return m.Facade.Position(ctx, timeout)
	}
	return m.PositionFunc(ctx, timeout)
}

// GridMap calls the injected GridMapFunc or the real version.
func (m *Mock) GridMap(ctx context.Context, timeout time.Duration) (messages.OccupancyGridSnapshot, error) {
	if m.GridMapFunc == nil {
		return m.Facade.GridMap(ctx, timeout)
	}
	return m.GridMapFunc(ctx, timeout)
}

// QueueCommand calls the injected QueueCommandFunc or the real version.
func (m *Mock) QueueCommand(ctx context.Context, timeout time.Duration, cmd messages.Command) error {
	if m.QueueCommandFunc == nil {
		return m.Facade.QueueCommand(ctx, timeout, cmd)
	}
	return m.QueueCommandFunc(ctx, timeout, cmd)
}

// Ticks calls the injected TicksFunc or the real version.
func (m *Mock) Ticks(ctx context.Context, timeout time.Duration) (uint64, error) {
	if m.TicksFunc == nil {
		return m.Facade.Ticks(ctx, timeout)
	}
	return m.TicksFunc(ctx, timeout)
}

// Topics calls the injected TopicsFunc or the real version.
func (m *Mock) Topics(ctx context.Context, timeout time.Duration) ([]bus.TopicInfo, error) {
	if m.TopicsFunc == nil {
		return m.Facade.Topics(ctx, timeout)
	}
	return m.TopicsFunc(ctx, timeout)
}

// Trajectory calls the injected TrajectoryFunc or the real version.
func (m *Mock) Trajectory(ctx context.Context, timeout time.Duration) ([]messages.Pose2D, error) {
	if m.TrajectoryFunc == nil {
		return m.Facade.Trajectory(ctx, timeout)
	}
	return m.TrajectoryFunc(ctx, timeout)
}
