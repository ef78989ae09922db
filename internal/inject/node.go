// Package inject provides dependency injected structures for mocking interfaces.
package inject

import (
	"context"
	"time"

	"github.com/viam-modules/viam-gridslam/bus"
)

// Node is an injected scheduler node.
type Node struct {
	NodeName     string
	BindingsFunc func() []bus.Binding
	StepFunc     func(ctx context.Context, dt time.Duration) error
}

// Name returns the injected NodeName.
func (n *Node) Name() string {
	return n.NodeName
}

// Bindings calls the injected BindingsFunc or returns no bindings.
func (n *Node) Bindings() []bus.Binding {
	if n.BindingsFunc == nil {
		return nil
	}
	return n.BindingsFunc()
}

// Step calls the injected StepFunc or does nothing.
func (n *Node) Step(ctx context.Context, dt time.Duration) error {
	if n.StepFunc == nil {
		return nil
	}
	return n.StepFunc(ctx, dt)
}
