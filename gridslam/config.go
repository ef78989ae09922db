package gridslam

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/icp"
	"github.com/viam-modules/viam-gridslam/messages"
)

// Default likelihood model values.
const (
	DefaultZHit     = 0.9
	DefaultMaxRange = 1.0
)

// MotionNoise scales the standard deviation of the sampled motion with the commanded motion:
// sigma_linear = Linear * |(dx, dy)| applied to dx and dy, sigma_angular = Angular * |dtheta|.
type MotionNoise struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Validate returns an error for negative or non-finite coefficients.
func (m MotionNoise) Validate() error {
	if !(m.Linear >= 0) || math.IsInf(m.Linear, 0) {
		return errors.Errorf("linear motion noise must be non-negative, got %v", m.Linear)
	}
	if !(m.Angular >= 0) || math.IsInf(m.Angular, 0) {
		return errors.Errorf("angular motion noise must be non-negative, got %v", m.Angular)
	}
	return nil
}

// PoseSpread is the standard deviation of the noise added to the start pose of every particle.
type PoseSpread struct {
	Position float64 `json:"position"`
	Heading  float64 `json:"heading"`
}

// Likelihood is the beam end point model used to weight particles against their own grid. Every
// end point inside the grid contributes p = ZHit * P(cell) + (1 - ZHit) / MaxRange; end points
// outside the grid use the unknown prior for P(cell).
type Likelihood struct {
	ZHit     float64 `json:"z_hit"`
	MaxRange float64 `json:"max_range"`
}

// DefaultLikelihood returns the likelihood model used when none is configured.
func DefaultLikelihood() Likelihood {
	return Likelihood{ZHit: DefaultZHit, MaxRange: DefaultMaxRange}
}

// Validate returns an error if the model can assign a zero likelihood.
func (l Likelihood) Validate() error {
	if !(l.ZHit > 0 && l.ZHit < 1) {
		return errors.Errorf("z_hit must be in (0, 1), got %v", l.ZHit)
	}
	if !(l.MaxRange > 0) || math.IsInf(l.MaxRange, 0) {
		return errors.Errorf("max_range must be positive and finite, got %v", l.MaxRange)
	}
	return nil
}

// Config holds everything needed to create an Engine.
type Config struct {
	Grid        grid.Config
	SensorModel grid.SensorModel
	Likelihood  Likelihood

	Particles int
	// ResampleThreshold is the fraction of Particles the effective sample size must drop below
	// before the filter resamples.
	ResampleThreshold float64
	MotionNoise       MotionNoise

	InitialPose   messages.Pose2D
	InitialSpread PoseSpread

	Seed int64
	// ScanMatch, when set, aligns every scan to the previous one and uses the result in place of
	// the odometry if the match converged.
	ScanMatch *icp.Config
	// Parallelism bounds the number of particles processed at once. Zero uses GOMAXPROCS.
	Parallelism int
}

// Validate returns every problem of the config at once.
func (c *Config) Validate() error {
	var errs error
	if err := c.Grid.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "grid"))
	}
	if err := c.SensorModel.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "sensor model"))
	}
	if err := c.Likelihood.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "likelihood"))
	}
	if c.Particles <= 0 {
		errs = multierr.Append(errs, errors.Errorf("particle count must be positive, got %d", c.Particles))
	}
	if !(c.ResampleThreshold > 0 && c.ResampleThreshold <= 1) {
		errs = multierr.Append(errs, errors.Errorf("resample threshold must be in (0, 1], got %v", c.ResampleThreshold))
	}
	if err := c.MotionNoise.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if !c.InitialPose.IsFinite() {
		errs = multierr.Append(errs, errors.Errorf("initial pose must be finite, got %+v", c.InitialPose))
	}
	if !(c.InitialSpread.Position >= 0) || !(c.InitialSpread.Heading >= 0) {
		errs = multierr.Append(errs, errors.Errorf("initial spread must be non-negative, got %+v", c.InitialSpread))
	}
	if c.ScanMatch != nil {
		if err := c.ScanMatch.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "scan match"))
		}
	}
	if c.Parallelism < 0 {
		errs = multierr.Append(errs, errors.Errorf("parallelism must not be negative, got %d", c.Parallelism))
	}
	return errs
}

func (c *Config) parallelism() int {
	if c.Parallelism == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Parallelism
}
