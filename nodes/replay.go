package nodes

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/messages"
)

// Replay publishes recorded observations, one frame per tick.
type Replay struct {
	name   string
	logger logging.Logger
	output *bus.Publisher[messages.ScanOdometry]
	frames []messages.ScanOdometry
	loop   bool
	next   int
}

func newReplay(name string, params *config.ReplayParams, b *bus.Bus, logger logging.Logger) (*Replay, error) {
	output, err := bus.NewPublisher[messages.ScanOdometry](b, params.Output)
	if err != nil {
		return nil, err
	}
	return &Replay{
		name:   name,
		logger: logger,
		output: output,
		frames: params.Frames,
		loop:   params.Loop,
	}, nil
}

// Name returns the node name.
func (r *Replay) Name() string { return r.name }

// Bindings returns the output topic.
func (r *Replay) Bindings() []bus.Binding { return bindings(r.output) }

// Done reports whether every frame has been published and the replay does not loop.
func (r *Replay) Done() bool {
	return !r.loop && r.next >= len(r.frames)
}

// Step publishes the next frame, if any.
func (r *Replay) Step(ctx context.Context, dt time.Duration) error {
	if len(r.frames) == 0 {
		return nil
	}
	if r.next >= len(r.frames) {
		if !r.loop {
			return nil
		}
		r.logger.Debug("replay reached the last frame, starting over")
		r.next = 0
	}
	r.output.Publish(r.frames[r.next])
	r.next++
	if r.Done() {
		r.logger.Infof("replayed all %d frames", len(r.frames))
	}
	return nil
}
