package nodes

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/messages"
)

type split struct {
	input    *bus.Subscription[messages.ScanOdometry]
	scan     *bus.Publisher[messages.ScanObservation]
	odometry *bus.Publisher[messages.OdometryDelta]
}

// Splitter forwards the scan and the odometry of combined observations to separate topics. It
// keeps no state between ticks.
type Splitter struct {
	name   string
	splits []split
}

func newSplitter(name string, params *config.SplitterParams, b *bus.Bus) (*Splitter, error) {
	s := &Splitter{name: name}
	var errs error
	for _, p := range params.Splits {
		input, err := bus.NewSubscription[messages.ScanOdometry](b, p.Input)
		errs = multierr.Append(errs, err)
		scan, err := bus.NewPublisher[messages.ScanObservation](b, p.Scan)
		errs = multierr.Append(errs, err)
		odometry, err := bus.NewPublisher[messages.OdometryDelta](b, p.Odometry)
		errs = multierr.Append(errs, err)
		if errs == nil {
			s.splits = append(s.splits, split{input: input, scan: scan, odometry: odometry})
		}
	}
	if errs != nil {
		return nil, errs
	}
	return s, nil
}

// Name returns the node name.
func (s *Splitter) Name() string { return s.name }

// Bindings returns the topics of every split.
func (s *Splitter) Bindings() []bus.Binding {
	var out []bus.Binding
	for _, sp := range s.splits {
		out = append(out, bindings(sp.input, sp.scan, sp.odometry)...)
	}
	return out
}

// Step publishes both parts of every observation present this tick. A missing observation
// produces no output.
func (s *Splitter) Step(ctx context.Context, dt time.Duration) error {
	for _, sp := range s.splits {
		obs, ok := sp.input.Latest()
		if !ok {
			continue
		}
		sp.scan.Publish(obs.Scan)
		sp.odometry.Publish(obs.Odometry)
	}
	return nil
}
