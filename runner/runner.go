// Package runner contains the host loop that drives the ticks of a gridslam session
package runner

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"github.com/viam-modules/viam-gridslam/facade"
)

// Config holds what the tick loop needs.
type Config struct {
	Facade facade.Interface
	// TickRateHz paces the ticks against the wall clock. Zero runs them back to back.
	TickRateHz float64
	// MaxTicks stops the loop after that many ticks. Zero runs until the context is done.
	MaxTicks int
	Timeout  time.Duration
	Logger   logging.Logger
}

// Start runs ticks until ctx is done, MaxTicks were executed, or a tick fails. It returns the error of
// the failed tick; cancellation and reaching MaxTicks return nil.
func (config *Config) Start(ctx context.Context) error {
	for executed := 0; config.MaxTicks == 0 || executed < config.MaxTicks; executed++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeToSleep, err := config.tickOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "tick %d failed", executed+1)
		}
		if timeToSleep > 0 {
			config.Logger.Debugf("runner sleep for %v", timeToSleep)
			if !utils.SelectContextOrWait(ctx, timeToSleep) {
				return nil
			}
		}
	}
	config.Logger.Infof("runner finished after %d ticks", config.MaxTicks)
	return nil
}

// tickOnce runs one tick and returns the remainder of the tick interval.
func (config *Config) tickOnce(ctx context.Context) (time.Duration, error) {
	startTime := time.Now()
	if _, err := config.Facade.Tick(ctx, config.Timeout); err != nil {
		return 0, err
	}
	if config.TickRateHz <= 0 {
		return 0, nil
	}
	interval := time.Duration(float64(time.Second) / config.TickRateHz)
	return time.Duration(math.Max(0, float64(interval-time.Since(startTime)))), nil
}
