// Package gridslam implements a particle filter SLAM engine in which every particle carries its own
// log-odds occupancy grid.
package gridslam

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/icp"
	"github.com/viam-modules/viam-gridslam/messages"
)

// weightTolerance bounds the deviation of the weight sum from one after normalization.
const weightTolerance = 1e-9

var (
	// ErrInvariantViolation denotes an internal contract breach of the filter. It is fatal.
	ErrInvariantViolation = errors.New("particle filter invariant violated")
	// ErrNotInitialized is returned by Update before Initialize was called.
	ErrNotInitialized = errors.New("slam engine is not initialized")
)

// State is the lifecycle state of an Engine.
type State int

const (
	// Uninitialized engines hold no particles.
	Uninitialized State = iota
	// Initialized engines hold particles at the start pose with empty grids.
	Initialized
	// Running engines have processed at least one update since they were initialized.
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Particle is a read-only view of one particle.
type Particle struct {
	Pose   messages.Pose2D
	Weight float64
}

// Report summarizes one Update call.
type Report struct {
	Pose                messages.Pose2D
	EffectiveSampleSize float64
	Resampled           bool
	// MalformedScan is set when the scan was skipped for the measurement and map updates.
	MalformedScan error
	// DroppedEndPoints counts valid end points of the published particle that fell outside its grid.
	DroppedEndPoints int
	// WeightsReset is set when all weights vanished and were reset to uniform.
	WeightsReset bool
	// ScanMatch holds the result of the scan to scan alignment, when one was attempted.
	ScanMatch         *icp.Result
	ScanMatchAccepted bool
}

// Engine is a particle filter over robot poses and occupancy grids. Engines are not safe for
// concurrent use; per-particle work is parallelized internally.
type Engine struct {
	cfg    Config
	logger logging.Logger
	state  State

	poses   []messages.Pose2D
	weights []float64
	// grids and spare form a double buffered arena indexed by particle slot. Resampling copies into
	// spare and swaps the two.
	grids []*grid.Grid
	spare []*grid.Grid

	// rngs are owned by slots and never copied when particles are resampled.
	rngs        []*rand.Rand
	resampleRNG *rand.Rand

	best       int
	lastTarget *icp.Target

	logLikelihoods []float64
	sources        []int
	dropped        []int
}

// New creates an uninitialized engine.
func New(cfg Config, logger logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// State returns the lifecycle state of the engine.
func (e *Engine) State() State {
	return e.state
}

// Config returns the config the engine was created with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Initialize creates the particles at the start pose with empty grids and moves the engine to
// Initialized. Random streams are seeded from the configured seed, so an engine initialized twice
// replays the same sequence for the same inputs.
func (e *Engine) Initialize() error {
	n := e.cfg.Particles
	e.poses = make([]messages.Pose2D, n)
	e.weights = make([]float64, n)
	e.rngs = make([]*rand.Rand, n)
	e.logLikelihoods = make([]float64, n)
	e.sources = make([]int, n)
	e.dropped = make([]int, n)

	if len(e.grids) != n {
		e.grids = make([]*grid.Grid, n)
		e.spare = make([]*grid.Grid, n)
		for i := 0; i < n; i++ {
			var err error
			if e.grids[i], err = grid.New(e.cfg.Grid, e.cfg.SensorModel); err != nil {
				return err
			}
			if e.spare[i], err = grid.New(e.cfg.Grid, e.cfg.SensorModel); err != nil {
				return err
			}
		}
	} else {
		for i := range e.grids {
			e.grids[i].Reset()
		}
	}

	spread := e.cfg.InitialSpread
	for i := 0; i < n; i++ {
		e.rngs[i] = rand.New(rand.NewSource(slotSeed(e.cfg.Seed, i)))
		rng := e.rngs[i]
		e.poses[i] = messages.Pose2D{
			X:     e.cfg.InitialPose.X + rng.NormFloat64()*spread.Position,
			Y:     e.cfg.InitialPose.Y + rng.NormFloat64()*spread.Position,
			Theta: messages.NormalizeAngle(e.cfg.InitialPose.Theta + rng.NormFloat64()*spread.Heading),
		}
		e.weights[i] = 1 / float64(n)
	}
	e.resampleRNG = rand.New(rand.NewSource(slotSeed(e.cfg.Seed, -1)))
	e.best = 0
	e.lastTarget = nil
	e.state = Initialized
	return nil
}

// Reset returns an initialized or running engine to Initialized.
func (e *Engine) Reset() error {
	if e.state == Uninitialized {
		return ErrNotInitialized
	}
	e.logger.Info("resetting slam engine")
	return e.Initialize()
}

// Particles returns a copy of the current particle poses and weights.
func (e *Engine) Particles() []Particle {
	particles := make([]Particle, len(e.poses))
	for i := range e.poses {
		particles[i] = Particle{Pose: e.poses[i], Weight: e.weights[i]}
	}
	return particles
}

// Estimate returns the pose and a snapshot of the grid of the particle with the highest weight.
func (e *Engine) Estimate() (messages.Pose2D, messages.OccupancyGridSnapshot, error) {
	if e.state == Uninitialized {
		return messages.Pose2D{}, messages.OccupancyGridSnapshot{}, ErrNotInitialized
	}
	return e.poses[e.best], e.grids[e.best].Snapshot(), nil
}

// Update advances the filter by one tick: motion update, measurement update, normalization,
// resampling when the effective sample size is low, and map update. A malformed scan only skips the
// measurement and map updates; the motion update still happens. Errors are fatal. ctx only carries
// the trace; once started, an update always runs to completion so every particle sees the same tick.
func (e *Engine) Update(ctx context.Context, odometry messages.OdometryDelta, scan messages.ScanObservation) (Report, error) {
	_, span := trace.StartSpan(ctx, "viamgridslam::gridslam::Update")
	defer span.End()

	var report Report
	if e.state == Uninitialized {
		return report, ErrNotInitialized
	}
	if len(e.poses) != e.cfg.Particles || len(e.weights) != e.cfg.Particles {
		return report, errors.Wrapf(ErrInvariantViolation, "expected %d particles, have %d poses and %d weights",
			e.cfg.Particles, len(e.poses), len(e.weights))
	}
	e.state = Running

	if !odometry.IsFinite() {
		e.logger.Warnw("ignoring non-finite odometry", "odometry", odometry)
		odometry = messages.OdometryDelta{}
	}

	var points []r2.Point
	if err := scan.Validate(); err != nil {
		report.MalformedScan = err
	} else if points = scan.Points(); len(points) == 0 {
		report.MalformedScan = errors.New("scan contains no valid measurements")
	}
	scanOK := report.MalformedScan == nil
	if !scanOK {
		e.logger.Warnw("skipping measurement and map update for malformed scan", "error", report.MalformedScan)
	}

	if scanOK && e.cfg.ScanMatch != nil {
		odometry = e.matchScan(points, odometry, &report)
	}

	// motion and measurement update
	if err := e.forEachParticle(func(i int) error {
		e.poses[i] = e.cfg.MotionNoise.Sample(e.rngs[i], e.poses[i], odometry)
		if scanOK {
			e.logLikelihoods[i] = e.cfg.Likelihood.LogLikelihood(e.grids[i], e.poses[i], scan)
		}
		return nil
	}); err != nil {
		return report, err
	}

	if scanOK {
		maxLog := e.logLikelihoods[floats.MaxIdx(e.logLikelihoods)]
		for i := range e.weights {
			e.weights[i] *= math.Exp(e.logLikelihoods[i] - maxLog)
		}
		if !Normalize(e.weights) {
			report.WeightsReset = true
			e.logger.Warn("particle weights vanished, resetting them to uniform")
		}
		if sum := floats.Sum(e.weights); math.Abs(sum-1) > weightTolerance {
			return report, errors.Wrapf(ErrInvariantViolation, "weights sum to %v after normalization", sum)
		}
	}
	report.EffectiveSampleSize = EffectiveSampleSize(e.weights)
	e.best = floats.MaxIdx(e.weights)

	if scanOK {
		if report.EffectiveSampleSize < e.cfg.ResampleThreshold*float64(e.cfg.Particles) {
			e.resample()
			report.Resampled = true
			e.logger.Debugw("resampled particles", "effective_sample_size", report.EffectiveSampleSize)
		}

		// map update
		if err := e.forEachParticle(func(i int) error {
			target := e.grids[i]
			if report.Resampled {
				target = e.spare[i]
				if err := target.CopyFrom(e.grids[e.sources[i]]); err != nil {
					return errors.Wrap(ErrInvariantViolation, err.Error())
				}
			}
			e.dropped[i] = target.Integrate(e.poses[i], scan)
			return nil
		}); err != nil {
			return report, err
		}
		if report.Resampled {
			e.grids, e.spare = e.spare, e.grids
		}

		report.DroppedEndPoints = e.dropped[e.best]
		if report.DroppedEndPoints > 0 {
			e.logger.Warnw("dropped scan end points outside of the grid", "count", report.DroppedEndPoints)
		}
	}

	report.Pose = e.poses[e.best]
	return report, nil
}

// resample draws a new particle set with the systematic scheme. Poses are copied immediately; grids
// are copied into the spare arena during the map update. The published particle remains the copy of
// the heaviest particle.
func (e *Engine) resample() {
	n := len(e.weights)
	SystematicResample(e.weights, e.resampleRNG.Float64()/float64(n), e.sources)

	heaviest := e.best
	poses := make([]messages.Pose2D, n)
	e.best = 0
	found := false
	for m, src := range e.sources {
		poses[m] = e.poses[src]
		if !found && src == heaviest {
			e.best = m
			found = true
		}
		e.weights[m] = 1 / float64(n)
	}
	copy(e.poses, poses)
}

// matchScan aligns the scan to the previous one. A converged match replaces the odometry; otherwise
// the odometry is kept.
func (e *Engine) matchScan(points []r2.Point, odometry messages.OdometryDelta, report *Report) messages.OdometryDelta {
	defer func() { e.lastTarget = icp.NewTarget(points) }()
	if e.lastTarget == nil {
		return odometry
	}

	initial := messages.Pose2D{X: odometry.DX, Y: odometry.DY, Theta: odometry.DTheta}
	res := icp.Match(points, e.lastTarget, initial, *e.cfg.ScanMatch)
	report.ScanMatch = &res
	if !res.Converged {
		e.logger.Warnw("scan match did not converge, using odometry", "iterations", res.Iterations, "residual", res.Residual)
		return odometry
	}
	report.ScanMatchAccepted = true
	e.logger.Debugw("scan match converged", "iterations", res.Iterations, "residual", res.Residual)
	return messages.OdometryDelta{DX: res.Transform.X, DY: res.Transform.Y, DTheta: res.Transform.Theta}
}

// forEachParticle runs fn for every particle slot on a bounded worker pool. fn must only touch the
// state of slot i.
func (e *Engine) forEachParticle(fn func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(e.cfg.parallelism())
	for i := range e.poses {
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}

// slotSeed derives an independent seed for a particle slot with the splitmix64 finalizer.
func slotSeed(seed int64, slot int) int64 {
	z := uint64(seed) + uint64(slot+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
