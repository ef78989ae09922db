// Package config describes the node graph of a grid slam session and validates it.
package config

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	rdkutils "go.viam.com/rdk/utils"
	"go.viam.com/utils"

	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/gridslam"
	"github.com/viam-modules/viam-gridslam/icp"
	"github.com/viam-modules/viam-gridslam/messages"
)

// Kind names one of the node types a graph can be built from.
type Kind string

// The closed set of node kinds.
const (
	KindSplitter    Kind = "splitter"
	KindScanMatcher Kind = "scan_matcher"
	KindGridSlam    Kind = "grid_slam"
	KindReplay      Kind = "replay"
	KindRecorder    Kind = "recorder"
)

// Default values of optional parameters.
const (
	DefaultFixedStepSec      = 0.2
	DefaultTimeoutSec        = 5.0
	DefaultPoseTopic         = "pose"
	DefaultMapTopic          = "map"
	DefaultCommandTopic      = "command"
	DefaultICPMaxIterations  = 20
	DefaultICPEpsilon        = 1e-4
	DefaultVoxelSize         = 0.05
	DefaultScanMatcherPoints = 20000
)

// newError returns an error specific to a failure in the gridslam config.
func newError(configError string) error {
	return errors.Errorf("gridslam configuration error: %s", configError)
}

// Config describes a complete node graph.
type Config struct {
	Settings Settings     `json:"settings"`
	Nodes    []NodeConfig `json:"nodes"`
}

// Settings hold the session wide parameters.
type Settings struct {
	// TickRateHz selects a wall clock ticking at the given rate. When zero, ticks use a simulated
	// fixed step and run back to back.
	TickRateHz   float64 `json:"tick_rate_hz,omitempty"`
	FixedStepSec float64 `json:"fixed_step_sec,omitempty"`
	// MaxTicks stops the session after the given number of ticks. Zero runs until closed.
	MaxTicks     int     `json:"max_ticks,omitempty"`
	Seed         int64   `json:"seed"`
	CommandTopic string  `json:"command_topic,omitempty"`
	TimeoutSec   float64 `json:"timeout_sec,omitempty"`
}

// NodeConfig is a tagged variant: exactly the params field matching Kind must be set.
type NodeConfig struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	Splitter    *SplitterParams    `json:"splitter,omitempty"`
	ScanMatcher *ScanMatcherParams `json:"scan_matcher,omitempty"`
	GridSlam    *GridSlamParams    `json:"grid_slam,omitempty"`
	Replay      *ReplayParams      `json:"replay,omitempty"`
	Recorder    *RecorderParams    `json:"recorder,omitempty"`
}

// Split routes one combined observation topic to a scan topic and an odometry topic.
type Split struct {
	Input    string `json:"input"`
	Scan     string `json:"scan"`
	Odometry string `json:"odometry"`
}

// SplitterParams configure a splitter node.
type SplitterParams struct {
	Splits []Split `json:"splits"`
}

// ICPParams configure an ICP alignment.
type ICPParams struct {
	MaxIterations int                 `json:"max_iterations,omitempty"`
	Epsilon       float64             `json:"epsilon,omitempty"`
	Weighting     icp.WeightingConfig `json:"weighting"`
}

// ICPConfig converts the params into an icp.Config.
func (p ICPParams) ICPConfig() (icp.Config, error) {
	weighting, err := p.Weighting.Build()
	if err != nil {
		return icp.Config{}, err
	}
	cfg := icp.Config{MaxIterations: p.MaxIterations, Epsilon: p.Epsilon, Weighting: weighting}
	return cfg, cfg.Validate()
}

// ScanMatcherParams configure an incremental ICP point map node.
type ScanMatcherParams struct {
	Scan string `json:"scan"`
	// Pose and Odometry are output topics; at least one must be set.
	Pose     string    `json:"pose,omitempty"`
	Odometry string    `json:"odometry,omitempty"`
	ICP      ICPParams `json:"icp"`
	// VoxelSize is the edge length of the cells used to thin out the point map.
	VoxelSize float64 `json:"voxel_size,omitempty"`
	MaxPoints int     `json:"max_points,omitempty"`
}

// GridSlamParams configure a particle filter grid slam node.
type GridSlamParams struct {
	Scan     string `json:"scan"`
	Odometry string `json:"odometry"`
	Pose     string `json:"pose,omitempty"`
	Map      string `json:"map,omitempty"`
	Command  string `json:"command,omitempty"`

	Grid        grid.Config          `json:"grid"`
	SensorModel *grid.SensorModel    `json:"sensor_model,omitempty"`
	Likelihood  *gridslam.Likelihood `json:"likelihood,omitempty"`

	Particles         int                   `json:"particles"`
	ResampleThreshold float64               `json:"resample_threshold"`
	MotionNoise       *gridslam.MotionNoise `json:"motion_noise"`

	InitialPose   messages.Pose2D     `json:"initial_pose"`
	InitialSpread gridslam.PoseSpread `json:"initial_spread"`

	Seed        *int64     `json:"seed,omitempty"`
	ScanMatch   *ICPParams `json:"scan_match,omitempty"`
	Parallelism int        `json:"parallelism,omitempty"`
}

// ReplayParams configure a node that publishes recorded frames, one per tick.
type ReplayParams struct {
	Output string                  `json:"output"`
	Frames []messages.ScanOdometry `json:"frames"`
	Loop   bool                    `json:"loop,omitempty"`
}

// RecorderParams configure a node that keeps the latest pose and map it sees.
type RecorderParams struct {
	Pose string `json:"pose,omitempty"`
	Map  string `json:"map,omitempty"`
}

// Validate checks every node of the graph and reports all problems at once.
func (config *Config) Validate(path string) error {
	var errs error
	if err := config.Settings.Validate(path + ".settings"); err != nil {
		errs = multierr.Append(errs, err)
	}
	if len(config.Nodes) == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "nodes"))
	}
	for i := range config.Nodes {
		if err := config.Nodes[i].Validate(fmt.Sprintf("%s.nodes.%d", path, i)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Validate checks the session wide parameters.
func (s *Settings) Validate(path string) error {
	var errs error
	if s.TickRateHz < 0 || math.IsNaN(s.TickRateHz) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("cannot specify tick_rate_hz less than zero")))
	}
	if s.FixedStepSec < 0 || math.IsNaN(s.FixedStepSec) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("cannot specify fixed_step_sec less than zero")))
	}
	if s.MaxTicks < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("cannot specify max_ticks less than zero")))
	}
	if s.TimeoutSec < 0 || math.IsNaN(s.TimeoutSec) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("cannot specify timeout_sec less than zero")))
	}
	return errs
}

// Validate checks that the node carries exactly the params of its kind and that they are complete.
func (n *NodeConfig) Validate(path string) error {
	if n.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}

	set := 0
	for _, p := range []bool{n.Splitter != nil, n.ScanMatcher != nil, n.GridSlam != nil, n.Replay != nil, n.Recorder != nil} {
		if p {
			set++
		}
	}
	if set > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("node %q must only set the params of kind %q", n.Name, n.Kind))
	}

	switch n.Kind {
	case KindSplitter:
		if n.Splitter == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "splitter")
		}
		return n.Splitter.Validate(path + ".splitter")
	case KindScanMatcher:
		if n.ScanMatcher == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "scan_matcher")
		}
		return n.ScanMatcher.Validate(path + ".scan_matcher")
	case KindGridSlam:
		if n.GridSlam == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "grid_slam")
		}
		return n.GridSlam.Validate(path + ".grid_slam")
	case KindReplay:
		if n.Replay == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "replay")
		}
		return n.Replay.Validate(path + ".replay")
	case KindRecorder:
		if n.Recorder == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "recorder")
		}
		return nil
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "kind")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown node kind %q", n.Kind))
	}
}

// Validate checks the splits.
func (p *SplitterParams) Validate(path string) error {
	if len(p.Splits) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "splits")
	}
	var errs error
	for i, split := range p.Splits {
		splitPath := fmt.Sprintf("%s.splits.%d", path, i)
		if split.Input == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(splitPath, "input"))
		}
		if split.Scan == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(splitPath, "scan"))
		}
		if split.Odometry == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(splitPath, "odometry"))
		}
	}
	return errs
}

// Validate checks the scan matcher params.
func (p *ScanMatcherParams) Validate(path string) error {
	var errs error
	if p.Scan == "" {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "scan"))
	}
	if p.Pose == "" && p.Odometry == "" {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("at least one of pose or odometry must be set")))
	}
	if p.VoxelSize < 0 || p.MaxPoints < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("cannot specify voxel_size or max_points less than zero")))
	}
	if err := p.ICP.validate(path + ".icp"); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (p ICPParams) validate(path string) error {
	if p.MaxIterations < 0 || p.Epsilon < 0 {
		return utils.NewConfigValidationError(path, errors.New("cannot specify max_iterations or epsilon less than zero"))
	}
	if _, err := p.Weighting.Build(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Validate checks the grid slam params. The resample threshold and the motion noise have no sensible
// default and must be given.
func (p *GridSlamParams) Validate(path string) error {
	var errs error
	if p.Scan == "" {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "scan"))
	}
	if p.Odometry == "" {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "odometry"))
	}
	if err := p.Grid.Validate(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path+".grid", err))
	}
	if p.SensorModel != nil {
		if err := p.SensorModel.Validate(); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path+".sensor_model", err))
		}
	}
	if p.Likelihood != nil {
		if err := p.Likelihood.Validate(); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path+".likelihood", err))
		}
	}
	if p.Particles <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "particles"))
	}
	switch {
	case p.ResampleThreshold == 0:
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "resample_threshold"))
	case !(p.ResampleThreshold > 0 && p.ResampleThreshold <= 1):
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("resample_threshold must be in (0, 1], got %v", p.ResampleThreshold)))
	}
	if p.MotionNoise == nil {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "motion_noise"))
	} else if err := p.MotionNoise.Validate(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path+".motion_noise", err))
	}
	if p.ScanMatch != nil {
		if err := p.ScanMatch.validate(path + ".scan_match"); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if p.Parallelism < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("cannot specify parallelism less than zero")))
	}
	return errs
}

// Validate checks the replay params.
func (p *ReplayParams) Validate(path string) error {
	if p.Output == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "output")
	}
	return nil
}

// GetOptionalParameters returns a copy of config in which every unset optional parameter is set to
// its default. Every default chosen is logged at debug level.
func GetOptionalParameters(config *Config, logger logging.Logger) *Config {
	out := *config
	out.Nodes = make([]NodeConfig, len(config.Nodes))

	s := &out.Settings
	if s.TickRateHz == 0 && s.FixedStepSec == 0 {
		s.FixedStepSec = DefaultFixedStepSec
		logger.Debugf("no tick_rate_hz or fixed_step_sec given, setting fixed_step_sec to default value of %v", DefaultFixedStepSec)
	}
	if s.CommandTopic == "" {
		s.CommandTopic = DefaultCommandTopic
		logger.Debugf("no command_topic given, setting to default value of %q", DefaultCommandTopic)
	}
	if s.TimeoutSec == 0 {
		s.TimeoutSec = DefaultTimeoutSec
		logger.Debugf("no timeout_sec given, setting to default value of %v", DefaultTimeoutSec)
	}

	for i, n := range config.Nodes {
		switch {
		case n.ScanMatcher != nil:
			p := *n.ScanMatcher
			p.ICP = icpDefaults(p.ICP, n.Name, logger)
			if p.VoxelSize == 0 {
				p.VoxelSize = DefaultVoxelSize
				logger.Debugf("%s: no voxel_size given, setting to default value of %v", n.Name, DefaultVoxelSize)
			}
			if p.MaxPoints == 0 {
				p.MaxPoints = DefaultScanMatcherPoints
				logger.Debugf("%s: no max_points given, setting to default value of %d", n.Name, DefaultScanMatcherPoints)
			}
			n.ScanMatcher = &p
		case n.GridSlam != nil:
			p := *n.GridSlam
			p.Pose = topicDefault(p.Pose, DefaultPoseTopic, "pose", n.Name, logger)
			p.Map = topicDefault(p.Map, DefaultMapTopic, "map", n.Name, logger)
			p.Command = topicDefault(p.Command, s.CommandTopic, "command", n.Name, logger)
			if p.SensorModel == nil {
				model := grid.DefaultSensorModel()
				p.SensorModel = &model
				logger.Debugf("%s: no sensor_model given, setting to default value of %+v", n.Name, model)
			}
			if p.Likelihood == nil {
				likelihood := gridslam.DefaultLikelihood()
				p.Likelihood = &likelihood
				logger.Debugf("%s: no likelihood given, setting to default value of %+v", n.Name, likelihood)
			}
			if p.Seed == nil {
				seed := s.Seed
				p.Seed = &seed
			}
			if p.ScanMatch != nil {
				icpParams := icpDefaults(*p.ScanMatch, n.Name, logger)
				p.ScanMatch = &icpParams
			}
			n.GridSlam = &p
		case n.Recorder != nil:
			p := *n.Recorder
			p.Pose = topicDefault(p.Pose, DefaultPoseTopic, "pose", n.Name, logger)
			p.Map = topicDefault(p.Map, DefaultMapTopic, "map", n.Name, logger)
			n.Recorder = &p
		}
		out.Nodes[i] = n
	}
	return &out
}

func icpDefaults(p ICPParams, node string, logger logging.Logger) ICPParams {
	if p.MaxIterations == 0 {
		p.MaxIterations = DefaultICPMaxIterations
		logger.Debugf("%s: no icp max_iterations given, setting to default value of %d", node, DefaultICPMaxIterations)
	}
	if p.Epsilon == 0 {
		p.Epsilon = DefaultICPEpsilon
		logger.Debugf("%s: no icp epsilon given, setting to default value of %v", node, DefaultICPEpsilon)
	}
	return p
}

func topicDefault(topic, def, field, node string, logger logging.Logger) string {
	if topic != "" {
		return topic
	}
	logger.Debugf("%s: no %s topic given, setting to default value of %q", node, field, def)
	return def
}

// FromAttributes decodes a graph from a generic attribute map using the json field names.
func FromAttributes(attributes rdkutils.AttributeMap) (*Config, error) {
	config, err := resource.TransformAttributeMap[*Config](attributes)
	if err != nil {
		return nil, newError(err.Error())
	}
	return config, nil
}

// ValidateAndFill validates config and returns it with defaults applied. Validation problems are
// returned as one gridslam configuration error.
func ValidateAndFill(config *Config, path string, logger logging.Logger) (*Config, error) {
	if err := config.Validate(path); err != nil {
		return nil, newError(err.Error())
	}
	return GetOptionalParameters(config, logger), nil
}
