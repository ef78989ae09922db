package nodes

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/gridslam"
	"github.com/viam-modules/viam-gridslam/messages"
	"github.com/viam-modules/viam-gridslam/telemetry"
)

// GridSlam runs a particle filter slam engine on the scans and odometry it subscribes to and
// publishes the pose and map of the best particle.
type GridSlam struct {
	name    string
	logger  logging.Logger
	metrics *telemetry.Metrics
	engine  *gridslam.Engine

	scan     *bus.Subscription[messages.ScanObservation]
	odometry *bus.Subscription[messages.OdometryDelta]
	command  *bus.Subscription[messages.Command]
	pose     *bus.Publisher[messages.Pose2D]
	grid     *bus.Publisher[messages.OccupancyGridSnapshot]

	// pending accumulates odometry of ticks without a scan.
	pending messages.OdometryDelta
}

func newGridSlam(
	name string,
	params *config.GridSlamParams,
	b *bus.Bus,
	logger logging.Logger,
	metrics *telemetry.Metrics,
) (*GridSlam, error) {
	cfg := gridslam.Config{
		Grid:              params.Grid,
		Particles:         params.Particles,
		ResampleThreshold: params.ResampleThreshold,
		InitialPose:       params.InitialPose,
		InitialSpread:     params.InitialSpread,
		Parallelism:       params.Parallelism,
	}
	if params.SensorModel != nil {
		cfg.SensorModel = *params.SensorModel
	}
	if params.Likelihood != nil {
		cfg.Likelihood = *params.Likelihood
	}
	if params.MotionNoise != nil {
		cfg.MotionNoise = *params.MotionNoise
	}
	if params.Seed != nil {
		cfg.Seed = *params.Seed
	}
	if params.ScanMatch != nil {
		icpCfg, err := params.ScanMatch.ICPConfig()
		if err != nil {
			return nil, err
		}
		cfg.ScanMatch = &icpCfg
	}

	engine, err := gridslam.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := engine.Initialize(); err != nil {
		return nil, err
	}

	n := &GridSlam{name: name, logger: logger, metrics: metrics, engine: engine}
	if n.scan, err = bus.NewSubscription[messages.ScanObservation](b, params.Scan); err != nil {
		return nil, err
	}
	if n.odometry, err = bus.NewSubscription[messages.OdometryDelta](b, params.Odometry); err != nil {
		return nil, err
	}
	if n.command, err = bus.NewSubscription[messages.Command](b, params.Command); err != nil {
		return nil, err
	}
	if n.pose, err = bus.NewPublisher[messages.Pose2D](b, params.Pose); err != nil {
		return nil, err
	}
	if n.grid, err = bus.NewPublisher[messages.OccupancyGridSnapshot](b, params.Map); err != nil {
		return nil, err
	}
	return n, nil
}

// Name returns the node name.
func (n *GridSlam) Name() string { return n.name }

// Bindings returns the input and output topics.
func (n *GridSlam) Bindings() []bus.Binding {
	return bindings(n.scan, n.odometry, n.command, n.pose, n.grid)
}

// Engine returns the engine of the node.
func (n *GridSlam) Engine() *gridslam.Engine { return n.engine }

// Step handles a pending reset command, then runs one engine update if a scan arrived this tick.
// Odometry seen without a scan is carried over to the next update.
func (n *GridSlam) Step(ctx context.Context, dt time.Duration) error {
	if cmd, ok := n.command.Latest(); ok {
		switch cmd.Kind {
		case messages.CommandReset:
			if err := n.engine.Reset(); err != nil {
				return err
			}
			n.pending = messages.OdometryDelta{}
		default:
			n.logger.Warnw("ignoring unknown command", "kind", cmd.Kind)
		}
	}

	if delta, ok := n.odometry.Latest(); ok {
		if n.pending == (messages.OdometryDelta{}) {
			n.pending = delta
		} else {
			n.pending = n.pending.Then(delta)
		}
	}
	scan, ok := n.scan.Latest()
	if !ok {
		return nil
	}

	report, err := n.engine.Update(ctx, n.pending, scan)
	if err != nil {
		return err
	}
	n.pending = messages.OdometryDelta{}
	n.metrics.ObserveReport(n.name, report)

	pose, snapshot, err := n.engine.Estimate()
	if err != nil {
		return err
	}
	n.pose.Publish(pose)
	n.grid.Publish(snapshot)
	return nil
}
