// Package scheduler orders the nodes of a graph by their topic dependencies and steps each of them
// once per tick.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-gridslam/bus"
)

// Node is a configured processing unit. A node owns its state exclusively and only talks to other
// nodes through the topics named by its bindings.
type Node interface {
	Name() string
	Bindings() []bus.Binding
	// Step runs the node once. A returned error is fatal for the session; recoverable conditions are
	// handled inside the node.
	Step(ctx context.Context, dt time.Duration) error
}

// Scheduler steps the nodes of one graph in dependency order.
type Scheduler struct {
	bus    *bus.Bus
	nodes  []Node
	clock  Clock
	logger logging.Logger
	ticks  uint64
}

// Build validates the bindings of nodes against b and computes an execution order in which every
// publisher of a topic runs before every subscriber of it. Ties keep the order nodes were given in.
// All problems are reported as ConfigurationErrors.
func Build(b *bus.Bus, nodes []Node, clock Clock, logger logging.Logger) (*Scheduler, error) {
	if clock == nil {
		return nil, NewConfigurationError("scheduler", errors.New("a clock is required"))
	}

	var errs error
	names := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.Name() == "" {
			errs = multierr.Append(errs, NewConfigurationError(fmt.Sprintf("nodes.%d", i), errors.New("node name must not be empty")))
			continue
		}
		if prev, ok := names[n.Name()]; ok {
			errs = multierr.Append(errs, NewConfigurationError(n.Name(), errors.Errorf("node name also used by node %d", prev)))
			continue
		}
		names[n.Name()] = i
		for _, binding := range n.Bindings() {
			if err := b.Check(binding); err != nil {
				errs = multierr.Append(errs, NewConfigurationError(n.Name(), err))
			}
		}
	}
	if errs != nil {
		return nil, errs
	}

	ordered, err := order(nodes)
	if err != nil {
		return nil, err
	}

	for _, topic := range unpublished(nodes) {
		logger.Warnw("topic has subscribers but no publisher", "topic", topic)
	}

	s := &Scheduler{bus: b, nodes: ordered, clock: clock, logger: logger}
	logger.Infof("node graph built with execution order %v", s.Order())
	return s, nil
}

// unpublished returns, in order of first subscription, the topics some node subscribes to that no
// node publishes.
func unpublished(nodes []Node) []string {
	published := map[string]bool{}
	for _, n := range nodes {
		for _, binding := range n.Bindings() {
			if binding.Direction == bus.Publishes {
				published[binding.Topic] = true
			}
		}
	}
	var topics []string
	seen := map[string]bool{}
	for _, n := range nodes {
		for _, binding := range n.Bindings() {
			if binding.Direction == bus.Subscribes && !published[binding.Topic] && !seen[binding.Topic] {
				seen[binding.Topic] = true
				topics = append(topics, binding.Topic)
			}
		}
	}
	return topics
}

// order sorts nodes topologically with Kahn's algorithm.
func order(nodes []Node) ([]Node, error) {
	publishers := map[string][]int{}
	for i, n := range nodes {
		for _, binding := range n.Bindings() {
			if binding.Direction == bus.Publishes {
				publishers[binding.Topic] = append(publishers[binding.Topic], i)
			}
		}
	}

	successors := make([]map[int]struct{}, len(nodes))
	inDegree := make([]int, len(nodes))
	for i := range successors {
		successors[i] = map[int]struct{}{}
	}
	for i, n := range nodes {
		for _, binding := range n.Bindings() {
			if binding.Direction != bus.Subscribes {
				continue
			}
			for _, p := range publishers[binding.Topic] {
				if p == i {
					return nil, NewConfigurationError(n.Name(), errors.Errorf("node subscribes to topic %q it publishes", binding.Topic))
				}
				if _, ok := successors[p][i]; !ok {
					successors[p][i] = struct{}{}
					inDegree[i]++
				}
			}
		}
	}

	done := make([]bool, len(nodes))
	ordered := make([]Node, 0, len(nodes))
	for len(ordered) < len(nodes) {
		next := -1
		for i := range nodes {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cycle []string
			for i, n := range nodes {
				if !done[i] {
					cycle = append(cycle, n.Name())
				}
			}
			return nil, NewConfigurationError("nodes", errors.Errorf("dependency cycle between nodes %s", strings.Join(cycle, ", ")))
		}
		done[next] = true
		ordered = append(ordered, nodes[next])
		for s := range successors[next] {
			inDegree[s]--
		}
	}
	return ordered, nil
}

// Order returns the node names in execution order.
func (s *Scheduler) Order() []string {
	names := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		names[i] = n.Name()
	}
	return names
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

// Tick starts a new bus tick and steps every node exactly once. The first node error aborts the tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "viamgridslam::scheduler::Tick")
	defer span.End()

	dt := s.clock.Elapsed()
	s.bus.BeginTick()
	for _, n := range s.nodes {
		if err := n.Step(ctx, dt); err != nil {
			return errors.Wrapf(err, "node %q failed", n.Name())
		}
	}
	s.ticks++
	return nil
}
