// Package facade serializes every access to a running node graph through a single worker goroutine.
package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/messages"
	"github.com/viam-modules/viam-gridslam/nodes"
	"github.com/viam-modules/viam-gridslam/scheduler"
	"github.com/viam-modules/viam-gridslam/telemetry"
)

var (
	// ErrNoPosition is returned by Position before any pose was recorded.
	ErrNoPosition = errors.New("no pose has been recorded yet")
	// ErrNoMap is returned by GridMap before any map was recorded.
	ErrNoMap = errors.New("no map has been recorded yet")
)

// Graph is the running state the worker goroutine owns.
type Graph struct {
	Bus       *bus.Bus
	Scheduler *scheduler.Scheduler
	Recorder  *nodes.Recorder
	Commands  *nodes.CommandSource
	Metrics   *telemetry.Metrics
}

// RequestType defines the operation a request performs on the graph.
type RequestType int64

const (
	// tick runs one scheduler tick.
	tick RequestType = iota
	// position reads the latest recorded pose.
	position
	// gridMap reads the latest recorded map.
	gridMap
	// queueCommand queues a command for the next tick.
	queueCommand
	// ticks reads the number of completed ticks.
	ticks
	// topics lists the declared topics.
	topics
	// trajectory reads the recorded poses.
	trajectory
)

func (r RequestType) String() string {
	switch r {
	case tick:
		return "tick"
	case position:
		return "position"
	case gridMap:
		return "grid_map"
	case queueCommand:
		return "queue_command"
	case ticks:
		return "ticks"
	case topics:
		return "topics"
	case trajectory:
		return "trajectory"
	default:
		return fmt.Sprintf("RequestType(%d)", int64(r))
	}
}

// Response defines the result of one piece of work that can be put on the result channel.
type Response struct {
	result interface{}
	err    error
}

// Request defines one piece of work for the worker goroutine.
type Request struct {
	ctx          context.Context
	responseChan chan Response
	requestType  RequestType
	command      messages.Command
}

/*
Facade ensures that only one goroutine touches the bus, the scheduler and the nodes at a time. None
of them are safe for concurrent use.
*/
type Facade struct {
	graph       Graph
	requestChan chan Request
}

// Interface defines the functionality of a Facade instance.
type Interface interface {
	Start(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup)
	Tick(ctx context.Context, timeout time.Duration) (uint64, error)
	Position(ctx context.Context, timeout time.Duration) (messages.Pose2D, error)
	GridMap(ctx context.Context, timeout time.Duration) (messages.OccupancyGridSnapshot, error)
	QueueCommand(ctx context.Context, timeout time.Duration, cmd messages.Command) error
	Ticks(ctx context.Context, timeout time.Duration) (uint64, error)
	Topics(ctx context.Context, timeout time.Duration) ([]bus.TopicInfo, error)
	Trajectory(ctx context.Context, timeout time.Duration) ([]messages.Pose2D, error)
}

// New instantiates a Facade for graph. Start must be called before any request is made.
func New(graph Graph) *Facade {
	return &Facade{graph: graph, requestChan: make(chan Request)}
}

// Tick runs one tick of the graph and returns the number of completed ticks.
func (f *Facade) Tick(ctx context.Context, timeout time.Duration) (uint64, error) {
	untyped, err := f.request(ctx, Request{requestType: tick}, timeout)
	if err != nil {
		return 0, err
	}
	n, ok := untyped.(uint64)
	if !ok {
		return 0, errors.New("unable to cast response from facade to a tick count")
	}
	return n, nil
}

// Position returns the latest pose recorded by the graph.
func (f *Facade) Position(ctx context.Context, timeout time.Duration) (messages.Pose2D, error) {
	untyped, err := f.request(ctx, Request{requestType: position}, timeout)
	if err != nil {
		return messages.Pose2D{}, err
	}
	pose, ok := untyped.(messages.Pose2D)
	if !ok {
		return messages.Pose2D{}, errors.New("unable to cast response from facade to a pose")
	}
	return pose, nil
}

// GridMap returns the latest map recorded by the graph.
func (f *Facade) GridMap(ctx context.Context, timeout time.Duration) (messages.OccupancyGridSnapshot, error) {
	untyped, err := f.request(ctx, Request{requestType: gridMap}, timeout)
	if err != nil {
		return messages.OccupancyGridSnapshot{}, err
	}
	snapshot, ok := untyped.(messages.OccupancyGridSnapshot)
	if !ok {
		return messages.OccupancyGridSnapshot{}, errors.New("unable to cast response from facade to a grid snapshot")
	}
	return snapshot, nil
}

// QueueCommand queues cmd; it is published during a following tick.
func (f *Facade) QueueCommand(ctx context.Context, timeout time.Duration, cmd messages.Command) error {
	_, err := f.request(ctx, Request{requestType: queueCommand, command: cmd}, timeout)
	return err
}

// Ticks returns the number of completed ticks.
func (f *Facade) Ticks(ctx context.Context, timeout time.Duration) (uint64, error) {
	untyped, err := f.request(ctx, Request{requestType: ticks}, timeout)
	if err != nil {
		return 0, err
	}
	n, ok := untyped.(uint64)
	if !ok {
		return 0, errors.New("unable to cast response from facade to a tick count")
	}
	return n, nil
}

// Topics lists the topics declared on the bus.
func (f *Facade) Topics(ctx context.Context, timeout time.Duration) ([]bus.TopicInfo, error) {
	untyped, err := f.request(ctx, Request{requestType: topics}, timeout)
	if err != nil {
		return nil, err
	}
	infos, ok := untyped.([]bus.TopicInfo)
	if !ok {
		return nil, errors.New("unable to cast response from facade to a topic list")
	}
	return infos, nil
}

// Trajectory returns the poses recorded by the graph, oldest first.
func (f *Facade) Trajectory(ctx context.Context, timeout time.Duration) ([]messages.Pose2D, error) {
	untyped, err := f.request(ctx, Request{requestType: trajectory}, timeout)
	if err != nil {
		return nil, err
	}
	poses, ok := untyped.([]messages.Pose2D)
	if !ok {
		return nil, errors.New("unable to cast response from facade to a trajectory")
	}
	return poses, nil
}

// doWork performs the request on the graph. It must only be called from the worker goroutine.
func (r *Request) doWork(f *Facade) (interface{}, error) {
	g := f.graph
	switch r.requestType {
	case tick:
		start := time.Now()
		// a started tick commits as a whole; the request timeout only bounds how long the caller waits
		if err := g.Scheduler.Tick(context.WithoutCancel(r.ctx)); err != nil {
			return nil, err
		}
		g.Metrics.ObserveTick(time.Since(start))
		return g.Scheduler.Ticks(), nil
	case position:
		pose, ok := g.Recorder.Pose()
		if !ok {
			return nil, ErrNoPosition
		}
		return pose, nil
	case gridMap:
		snapshot, ok := g.Recorder.Map()
		if !ok {
			return nil, ErrNoMap
		}
		return snapshot, nil
	case queueCommand:
		g.Commands.Queue(r.command)
		return nil, nil
	case ticks:
		return g.Scheduler.Ticks(), nil
	case topics:
		return g.Bus.Topics(), nil
	case trajectory:
		return g.Recorder.Trajectory(), nil
	}
	return nil, fmt.Errorf("no worktype found for: %v", r.requestType)
}

// request hands req to the worker goroutine and waits for its response or the timeout.
func (f *Facade) request(ctxParent context.Context, req Request, timeout time.Duration) (interface{}, error) {
	ctx, span := trace.StartSpan(ctxParent, "viamgridslam::facade::"+req.requestType.String())
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req.ctx = ctx
	req.responseChan = make(chan Response, 1)

	select {
	case f.requestChan <- req:
		select {
		case response := <-req.responseChan:
			return response.result, response.err
		case <-ctx.Done():
			msg := "timeout reading from gridslam"
			return nil, multierr.Combine(errors.New(msg), ctx.Err())
		}
	case <-ctx.Done():
		msg := "timeout writing to gridslam"
		return nil, multierr.Combine(errors.New(msg), ctx.Err())
	}
}

// Start starts the worker goroutine that owns the graph. It returns when ctx is cancelled.
func (f *Facade) Start(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup) {
	activeBackgroundWorkers.Add(1)
	go func() {
		defer activeBackgroundWorkers.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case workToDo := <-f.requestChan:
				result, err := workToDo.doWork(f)
				workToDo.responseChan <- Response{result: result, err: err}
			}
		}
	}()
}
