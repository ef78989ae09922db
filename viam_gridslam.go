// Package viamgridslam implements simultaneous localization and mapping on an occupancy grid.
// This is an Experimental package.
package viamgridslam

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/dataprocess"
	"github.com/viam-modules/viam-gridslam/facade"
	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/messages"
	"github.com/viam-modules/viam-gridslam/nodes"
	"github.com/viam-modules/viam-gridslam/postprocess"
	"github.com/viam-modules/viam-gridslam/runner"
	"github.com/viam-modules/viam-gridslam/scheduler"
	"github.com/viam-modules/viam-gridslam/telemetry"
)

// Model is the model name of gridslam.
var (
	Model = resource.NewModel("viam", "slam", "gridslam")
	// ErrClosed denotes that a session method was called on a closed session.
	ErrClosed = errors.Errorf("resource (%s) is closed", Model.String())
	// ErrUnknownCommand denotes that DoCommand received no command it understands.
	ErrUnknownCommand = errors.New("unknown command")
)

const (
	chunkSizeBytes = 1 * 1024 * 1024
	commandsNode   = "commands"

	resetKey     = "reset"
	ticksKey     = "ticks"
	topicsKey    = "topics"
	jobDoneKey   = "job_done"
	sessionIDKey = "session_id"
)

// Session owns one running node graph: its bus, nodes, scheduler and the worker goroutine that
// serializes access to them.
type Session struct {
	mu     sync.Mutex
	closed bool
	id     ulid.ULID
	logger logging.Logger

	facade             facade.Interface
	timeout            time.Duration
	componentReference string
	clampLimit         float64
	registry           *prometheus.Registry

	cancelFacadeFunc func()
	facadeWorkers    sync.WaitGroup
	cancelRunnerFunc func()
	runnerWorkers    sync.WaitGroup
	runnerErr        error
	jobDone          atomic.Bool

	postprocessed atomic.Bool
	tasks         []postprocess.Task
}

// New validates cfg, builds its node graph and starts serving requests. When the settings carry a
// tick rate or a tick limit, a runner drives the ticks in the background; otherwise the caller
// ticks through Tick. A bad graph is returned as a scheduler.ConfigurationError.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *Session, err error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::New")
	defer span.End()

	session := &Session{
		id:         ulid.Make(),
		logger:     logger,
		clampLimit: grid.DefaultClampLimit,
	}

	defer func() {
		if err != nil {
			logger.Errorw("New() hit error, closing...", "error", err)
			if err := session.Close(ctx); err != nil {
				logger.Errorw("error closing out after error", "error", err)
			}
		}
	}()

	filled, err := config.ValidateAndFill(cfg, "gridslam", logger)
	if err != nil {
		return nil, scheduler.NewConfigurationError("gridslam", err)
	}
	settings := filled.Settings
	session.timeout = time.Duration(settings.TimeoutSec * float64(time.Second))

	session.registry = prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(session.registry)
	if err != nil {
		return nil, err
	}

	graph, err := session.buildGraph(filled, metrics)
	if err != nil {
		return nil, err
	}

	cancelFacadeCtx, cancelFacadeFunc := context.WithCancel(context.Background())
	session.cancelFacadeFunc = cancelFacadeFunc
	f := facade.New(graph)
	f.Start(cancelFacadeCtx, &session.facadeWorkers)
	session.facade = f

	if settings.TickRateHz > 0 || settings.MaxTicks > 0 {
		session.startRunner(settings)
	}

	logger.Infow("gridslam session started", "session_id", session.ID(), "nodes", len(filled.Nodes))
	return session, nil
}

func (session *Session) buildGraph(cfg *config.Config, metrics *telemetry.Metrics) (facade.Graph, error) {
	b := bus.New()
	built, err := nodes.NewAll(cfg.Nodes, nodes.Deps{Bus: b, Logger: session.logger, Metrics: metrics})
	if err != nil {
		return facade.Graph{}, err
	}

	commands, err := nodes.NewCommandSource(commandsNode, cfg.Settings.CommandTopic, b)
	if err != nil {
		return facade.Graph{}, scheduler.NewConfigurationError("settings.command_topic", err)
	}
	built = append(built, commands)

	var clock scheduler.Clock = scheduler.FixedStep{Step: time.Duration(cfg.Settings.FixedStepSec * float64(time.Second))}
	if cfg.Settings.TickRateHz > 0 {
		clock = scheduler.NewWallClock()
	}
	sched, err := scheduler.Build(b, built, clock, session.logger)
	if err != nil {
		return facade.Graph{}, err
	}

	var recorder *nodes.Recorder
	var recorderParams *config.RecorderParams
	for _, n := range cfg.Nodes {
		if n.Recorder != nil {
			recorderParams = n.Recorder
			break
		}
	}
	for _, n := range built {
		if r, ok := n.(*nodes.Recorder); ok {
			recorder = r
			break
		}
	}
	if recorder == nil {
		return facade.Graph{}, scheduler.NewConfigurationError("nodes", errors.New("a session needs a recorder node"))
	}

	// the component reference is the node producing the recorded pose
	for _, n := range built {
		for _, binding := range n.Bindings() {
			if binding.Direction == bus.Publishes && binding.Topic == recorderParams.Pose {
				session.componentReference = n.Name()
			}
		}
	}
	for _, n := range cfg.Nodes {
		if n.GridSlam != nil && n.GridSlam.Map == recorderParams.Map {
			session.clampLimit = n.GridSlam.SensorModel.ClampLimit
		}
	}

	session.logger.Debugf("tick order: %v", sched.Order())
	return facade.Graph{
		Bus:       b,
		Scheduler: sched,
		Recorder:  recorder,
		Commands:  commands,
		Metrics:   metrics,
	}, nil
}

func (session *Session) startRunner(settings config.Settings) {
	cancelRunnerCtx, cancelRunnerFunc := context.WithCancel(context.Background())
	session.cancelRunnerFunc = cancelRunnerFunc
	runnerConfig := runner.Config{
		Facade:     session.facade,
		TickRateHz: settings.TickRateHz,
		MaxTicks:   settings.MaxTicks,
		Timeout:    session.timeout,
		Logger:     session.logger,
	}

	session.runnerWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer session.runnerWorkers.Done()
		if err := runnerConfig.Start(cancelRunnerCtx); err != nil {
			session.logger.Errorw("runner stopped", "error", err)
			session.runnerErr = err
		}
		session.jobDone.Store(true)
	})
}

// ID returns the identifier the session logs under.
func (session *Session) ID() string {
	return session.id.String()
}

// Registry returns the registry holding the metrics of the session.
func (session *Session) Registry() *prometheus.Registry {
	return session.registry
}

// Wait blocks until the background runner has finished and returns its error. It returns
// immediately when no runner was started.
func (session *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		session.runnerWorkers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return session.runnerErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (session *Session) isClosed() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.closed
}

// Tick runs one tick of the graph and returns the number of completed ticks.
func (session *Session) Tick(ctx context.Context) (uint64, error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::Tick")
	defer span.End()
	if session.isClosed() {
		session.logger.Warn("Tick called after closed")
		return 0, ErrClosed
	}
	return session.facade.Tick(ctx, session.timeout)
}

// Position returns the latest recorded pose and the name of the node that produced it.
func (session *Session) Position(ctx context.Context) (spatialmath.Pose, string, error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::Position")
	defer span.End()
	if session.isClosed() {
		session.logger.Warn("Position called after closed")
		return nil, "", ErrClosed
	}

	pose, err := session.facade.Position(ctx, session.timeout)
	if err != nil {
		return nil, "", err
	}
	return pose.SpatialPose(), session.componentReference, nil
}

// Trajectory returns the poses recorded so far, oldest first.
func (session *Session) Trajectory(ctx context.Context) ([]messages.Pose2D, error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::Trajectory")
	defer span.End()
	if session.isClosed() {
		session.logger.Warn("Trajectory called after closed")
		return nil, ErrClosed
	}
	return session.facade.Trajectory(ctx, session.timeout)
}

// GridMap returns the latest recorded map. While postprocessing is enabled the queued edits are
// applied to it.
func (session *Session) GridMap(ctx context.Context) (messages.OccupancyGridSnapshot, error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::GridMap")
	defer span.End()
	if session.isClosed() {
		session.logger.Warn("GridMap called after closed")
		return messages.OccupancyGridSnapshot{}, ErrClosed
	}

	snapshot, err := session.facade.GridMap(ctx, session.timeout)
	if err != nil {
		return messages.OccupancyGridSnapshot{}, err
	}
	if !session.postprocessed.Load() {
		return snapshot, nil
	}

	session.mu.Lock()
	tasks := append([]postprocess.Task(nil), session.tasks...)
	session.mu.Unlock()
	return postprocess.UpdateGrid(snapshot, tasks, session.clampLimit)
}

// PointCloudMap returns a callback function which will return the next chunk of the PCD encoding
// of the occupied cells of the current map.
func (session *Session) PointCloudMap(ctx context.Context) (func() ([]byte, error), error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::PointCloudMap")
	defer span.End()

	snapshot, err := session.GridMap(ctx)
	if err != nil {
		return nil, err
	}
	pcd, err := dataprocess.SnapshotToPCD(snapshot)
	if err != nil {
		return nil, err
	}
	return toChunkedFunc(pcd), nil
}

func toChunkedFunc(b []byte) func() ([]byte, error) {
	chunk := make([]byte, chunkSizeBytes)

	reader := bytes.NewReader(b)

	f := func() ([]byte, error) {
		bytesRead, err := reader.Read(chunk)
		if err != nil {
			return nil, err
		}
		return chunk[:bytesRead], err
	}
	return f
}

// DoCommand receives arbitrary commands.
func (session *Session) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::Session::DoCommand")
	defer span.End()
	if session.isClosed() {
		session.logger.Warn("DoCommand called after closed")
		return nil, ErrClosed
	}

	if _, ok := req[resetKey]; ok {
		if err := session.facade.QueueCommand(ctx, session.timeout, messages.Command{Kind: messages.CommandReset}); err != nil {
			return nil, err
		}
		return map[string]interface{}{resetKey: "queued"}, nil
	}

	if _, ok := req[ticksKey]; ok {
		n, err := session.facade.Ticks(ctx, session.timeout)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{ticksKey: n}, nil
	}

	if _, ok := req[topicsKey]; ok {
		infos, err := session.facade.Topics(ctx, session.timeout)
		if err != nil {
			return nil, err
		}
		names := make([]interface{}, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		return map[string]interface{}{topicsKey: names}, nil
	}

	if _, ok := req[jobDoneKey]; ok {
		return map[string]interface{}{jobDoneKey: session.jobDone.Load()}, nil
	}

	if _, ok := req[sessionIDKey]; ok {
		return map[string]interface{}{sessionIDKey: session.ID()}, nil
	}

	if _, ok := req[postprocess.ToggleCommand]; ok {
		enabled := !session.postprocessed.Load()
		session.postprocessed.Store(enabled)
		return map[string]interface{}{postprocess.ToggleCommand: enabled}, nil
	}

	if points, ok := req[postprocess.AddCommand]; ok {
		return session.queueTask(points, postprocess.Add, postprocess.AddCommand)
	}

	if points, ok := req[postprocess.RemoveCommand]; ok {
		return session.queueTask(points, postprocess.Remove, postprocess.RemoveCommand)
	}

	if _, ok := req[postprocess.UndoCommand]; ok {
		session.mu.Lock()
		defer session.mu.Unlock()
		if len(session.tasks) == 0 {
			return nil, errors.New("there are no postprocessing tasks to undo")
		}
		session.tasks = session.tasks[:len(session.tasks)-1]
		return map[string]interface{}{postprocess.UndoCommand: len(session.tasks)}, nil
	}

	return nil, ErrUnknownCommand
}

func (session *Session) queueTask(points interface{}, instruction postprocess.Instruction, key string) (map[string]interface{}, error) {
	task, err := postprocess.ParseDoCommand(points, instruction)
	if err != nil {
		return nil, errors.Wrap(err, key)
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	session.tasks = append(session.tasks, task)
	return map[string]interface{}{key: len(session.tasks)}, nil
}

// Close stops the runner and the worker goroutine of the session.
func (session *Session) Close(ctx context.Context) error {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.logger.Info("Closing gridslam module")

	if session.closed {
		session.logger.Warn("Close() called multiple times")
		return nil
	}

	// stop the runner before the facade it talks to
	if session.cancelRunnerFunc != nil {
		session.cancelRunnerFunc()
	}
	session.runnerWorkers.Wait()

	if session.cancelFacadeFunc != nil {
		session.cancelFacadeFunc()
	}
	session.facadeWorkers.Wait()
	session.closed = true

	session.logger.Info("Closing complete")
	return nil
}
