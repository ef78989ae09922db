// Package nodes implements the closed set of node kinds a gridslam graph is built from.
package nodes

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/scheduler"
	"github.com/viam-modules/viam-gridslam/telemetry"
)

// Deps are the collaborators shared by every node of a session.
type Deps struct {
	Bus    *bus.Bus
	Logger logging.Logger
	// Metrics may be nil.
	Metrics *telemetry.Metrics
}

// New creates the node described by cfg. cfg is expected to be validated and filled with defaults.
func New(cfg config.NodeConfig, deps Deps) (scheduler.Node, error) {
	logger := deps.Logger.Sublogger(cfg.Name)
	switch cfg.Kind {
	case config.KindSplitter:
		return newSplitter(cfg.Name, cfg.Splitter, deps.Bus)
	case config.KindScanMatcher:
		return newScanMatcher(cfg.Name, cfg.ScanMatcher, deps.Bus, logger, deps.Metrics)
	case config.KindGridSlam:
		return newGridSlam(cfg.Name, cfg.GridSlam, deps.Bus, logger, deps.Metrics)
	case config.KindReplay:
		return newReplay(cfg.Name, cfg.Replay, deps.Bus, logger)
	case config.KindRecorder:
		return newRecorder(cfg.Name, cfg.Recorder, deps.Bus)
	default:
		return nil, errors.Errorf("unknown node kind %q", cfg.Kind)
	}
}

// NewAll creates every node of cfgs in order. Failures are returned as one ConfigurationError per
// node.
func NewAll(cfgs []config.NodeConfig, deps Deps) ([]scheduler.Node, error) {
	var errs error
	nodes := make([]scheduler.Node, 0, len(cfgs))
	for i, cfg := range cfgs {
		n, err := New(cfg, deps)
		if err != nil {
			errs = multierr.Append(errs, scheduler.NewConfigurationError(fmt.Sprintf("nodes.%d.%s", i, cfg.Name), err))
			continue
		}
		nodes = append(nodes, n)
	}
	if errs != nil {
		return nil, errs
	}
	return nodes, nil
}

type binder interface {
	Binding() bus.Binding
}

func bindings(endpoints ...binder) []bus.Binding {
	out := make([]bus.Binding, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, e.Binding())
	}
	return out
}
