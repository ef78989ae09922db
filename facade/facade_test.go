package facade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/internal/inject"
	"github.com/viam-modules/viam-gridslam/internal/testhelper"
	"github.com/viam-modules/viam-gridslam/messages"
	"github.com/viam-modules/viam-gridslam/nodes"
	"github.com/viam-modules/viam-gridslam/scheduler"
)

const testTimeout = 5 * time.Second

func newTestGraph(t *testing.T, frames int, extra ...scheduler.Node) Graph {
	t.Helper()
	logger := logging.NewTestLogger(t)
	cfg := config.GetOptionalParameters(testhelper.RoomGraph(t, testhelper.StaticFrames(frames), 4), logger)

	b := bus.New()
	built, err := nodes.NewAll(cfg.Nodes, nodes.Deps{Bus: b, Logger: logger})
	test.That(t, err, test.ShouldBeNil)
	commands, err := nodes.NewCommandSource("commands", cfg.Settings.CommandTopic, b)
	test.That(t, err, test.ShouldBeNil)
	built = append(built, commands)
	built = append(built, extra...)

	sched, err := scheduler.Build(b, built, scheduler.FixedStep{Step: time.Second}, logger)
	test.That(t, err, test.ShouldBeNil)

	var recorder *nodes.Recorder
	for _, n := range built {
		if r, ok := n.(*nodes.Recorder); ok {
			recorder = r
		}
	}
	return Graph{Bus: b, Scheduler: sched, Recorder: recorder, Commands: commands}
}

func TestRequest(t *testing.T) {
	t.Run("successful requests", func(t *testing.T) {
		cancelCtx, cancelFunc := context.WithCancel(context.Background())
		activeBackgroundWorkers := sync.WaitGroup{}

		f := New(newTestGraph(t, 3))
		f.Start(cancelCtx, &activeBackgroundWorkers)

		_, err := f.Position(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeError, ErrNoPosition)
		_, err = f.GridMap(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeError, ErrNoMap)

		n, err := f.Tick(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 1)

		pose, err := f.Position(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose, test.ShouldResemble, messages.Pose2D{})

		snapshot, err := f.GridMap(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, snapshot.Width, test.ShouldEqual, testhelper.RoomCells)

		n, err = f.Ticks(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 1)

		poses, err := f.Trajectory(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, poses, test.ShouldResemble, []messages.Pose2D{pose})

		infos, err := f.Topics(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		test.That(t, names, test.ShouldResemble, []string{"command", "map", "observation", "odometry", "pose", "scan"})

		cancelFunc()
		activeBackgroundWorkers.Wait()
	})

	t.Run("queued commands are published on the next tick", func(t *testing.T) {
		cancelCtx, cancelFunc := context.WithCancel(context.Background())
		activeBackgroundWorkers := sync.WaitGroup{}

		g := newTestGraph(t, 3)
		f := New(g)
		f.Start(cancelCtx, &activeBackgroundWorkers)

		test.That(t, f.QueueCommand(cancelCtx, testTimeout, messages.Command{Kind: messages.CommandReset}), test.ShouldBeNil)
		_, err := f.Tick(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)

		cancelFunc()
		activeBackgroundWorkers.Wait()
		test.That(t, g.Commands.Pending(), test.ShouldEqual, 0)
	})

	t.Run("failed tick", func(t *testing.T) {
		cancelCtx, cancelFunc := context.WithCancel(context.Background())
		activeBackgroundWorkers := sync.WaitGroup{}

		testErr := errors.New("broken node")
		failing := &inject.Node{NodeName: "failing"}
		failing.StepFunc = func(ctx context.Context, dt time.Duration) error { return testErr }

		f := New(newTestGraph(t, 3, failing))
		f.Start(cancelCtx, &activeBackgroundWorkers)

		_, err := f.Tick(cancelCtx, testTimeout)
		test.That(t, errors.Is(err, testErr), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, `node "failing" failed`)

		n, err := f.Ticks(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 0)

		cancelFunc()
		activeBackgroundWorkers.Wait()
	})

	t.Run("request with a cancelled context", func(t *testing.T) {
		cancelCtx, cancelFunc := context.WithCancel(context.Background())
		activeBackgroundWorkers := sync.WaitGroup{}

		f := New(newTestGraph(t, 3))
		f.Start(cancelCtx, &activeBackgroundWorkers)
		cancelFunc()
		activeBackgroundWorkers.Wait()

		_, err := f.Tick(cancelCtx, testTimeout)
		expectedErr := multierr.Combine(errors.New("timeout writing to gridslam"), context.Canceled)
		test.That(t, err, test.ShouldBeError, expectedErr)
	})

	t.Run("request with a work function that takes longer than the timeout", func(t *testing.T) {
		cancelCtx, cancelFunc := context.WithCancel(context.Background())
		activeBackgroundWorkers := sync.WaitGroup{}

		stepErr := make(chan error, 1)
		slow := &inject.Node{NodeName: "slow"}
		slow.StepFunc = func(ctx context.Context, dt time.Duration) error {
			time.Sleep(100 * time.Millisecond)
			stepErr <- ctx.Err()
			return nil
		}

		f := New(newTestGraph(t, 3, slow))
		f.Start(cancelCtx, &activeBackgroundWorkers)

		_, err := f.Tick(cancelCtx, 10*time.Millisecond)
		expectedErr := multierr.Combine(errors.New("timeout reading from gridslam"), context.DeadlineExceeded)
		test.That(t, err, test.ShouldBeError, expectedErr)

		// the tick still runs to completion
		test.That(t, <-stepErr, test.ShouldBeNil)
		n, err := f.Ticks(cancelCtx, testTimeout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 1)

		cancelFunc()
		activeBackgroundWorkers.Wait()
	})

	t.Run("unknown request type", func(t *testing.T) {
		f := New(Graph{})
		req := Request{requestType: RequestType(42)}
		_, err := req.doWork(f)
		test.That(t, err, test.ShouldBeError, errors.New("no worktype found for: RequestType(42)"))
	})
}

func TestMock(t *testing.T) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	activeBackgroundWorkers := sync.WaitGroup{}

	mock := &Mock{Facade: New(newTestGraph(t, 3))}
	mock.Start(cancelCtx, &activeBackgroundWorkers)

	mock.PositionFunc = func(ctx context.Context, timeout time.Duration) (messages.Pose2D, error) {
		return messages.Pose2D{X: 1}, nil
	}
	pose, err := mock.Position(cancelCtx, testTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose, test.ShouldResemble, messages.Pose2D{X: 1})

	// unset funcs fall back to the real facade
	n, err := mock.Tick(cancelCtx, testTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)

	var _ Interface = mock
	cancelFunc()
	activeBackgroundWorkers.Wait()
}
