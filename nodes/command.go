package nodes

import (
	"context"
	"time"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/messages"
)

// CommandSource publishes commands queued from outside the graph, one per tick in queue order.
// Queue and Step must be called from the goroutine that drives the scheduler.
type CommandSource struct {
	name    string
	output  *bus.Publisher[messages.Command]
	pending []messages.Command
}

// NewCommandSource creates a source publishing on topic.
func NewCommandSource(name, topic string, b *bus.Bus) (*CommandSource, error) {
	output, err := bus.NewPublisher[messages.Command](b, topic)
	if err != nil {
		return nil, err
	}
	return &CommandSource{name: name, output: output}, nil
}

// Name returns the node name.
func (c *CommandSource) Name() string { return c.name }

// Bindings returns the command topic.
func (c *CommandSource) Bindings() []bus.Binding { return bindings(c.output) }

// Queue schedules cmd for a following tick.
func (c *CommandSource) Queue(cmd messages.Command) {
	c.pending = append(c.pending, cmd)
}

// Pending returns the number of commands not yet published.
func (c *CommandSource) Pending() int { return len(c.pending) }

// Step publishes the oldest queued command.
func (c *CommandSource) Step(ctx context.Context, dt time.Duration) error {
	if len(c.pending) == 0 {
		return nil
	}
	c.output.Publish(c.pending[0])
	c.pending = c.pending[1:]
	return nil
}
