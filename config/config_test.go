package config

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils"

	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/gridslam"
	"github.com/viam-modules/viam-gridslam/icp"
)

const testCfgPath = "gridslam.fake"

func makeGraph() *Config {
	return &Config{
		Settings: Settings{Seed: 3},
		Nodes: []NodeConfig{
			{
				Name:     "split",
				Kind:     KindSplitter,
				Splitter: &SplitterParams{Splits: []Split{{Input: "obs", Scan: "scan", Odometry: "odom"}}},
			},
			{
				Name: "slam",
				Kind: KindGridSlam,
				GridSlam: &GridSlamParams{
					Scan:              "scan",
					Odometry:          "odom",
					Grid:              grid.Config{Origin: r2.Point{X: -1, Y: -1}, Resolution: 0.1, Width: 20, Height: 20},
					Particles:         10,
					ResampleThreshold: 0.5,
					MotionNoise:       &gridslam.MotionNoise{Linear: 0.1, Angular: 0.1},
				},
			},
			{
				Name:     "recorder",
				Kind:     KindRecorder,
				Recorder: &RecorderParams{},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("Simplest valid config", func(t *testing.T) {
		test.That(t, makeGraph().Validate(testCfgPath), test.ShouldBeNil)
	})

	t.Run("Empty config", func(t *testing.T) {
		cfg := &Config{}
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testCfgPath, "nodes"))
	})

	t.Run("Node without name or kind", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes[0].Name = ""
		cfg.Nodes[2].Kind = ""
		expected := multierr.Combine(
			utils.NewConfigValidationFieldRequiredError(testCfgPath+".nodes.0", "name"),
			utils.NewConfigValidationFieldRequiredError(testCfgPath+".nodes.2", "kind"),
		)
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError, expected)
	})

	t.Run("Unknown kind", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes[2].Kind = "viewer"
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError,
			utils.NewConfigValidationError(testCfgPath+".nodes.2", errors.New(`unknown node kind "viewer"`)))
	})

	t.Run("Params of another kind", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes[0].Recorder = &RecorderParams{}
		test.That(t, cfg.Validate(testCfgPath).Error(), test.ShouldContainSubstring, `must only set the params of kind "splitter"`)

		cfg = makeGraph()
		cfg.Nodes[0].Kind = KindReplay
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError,
			utils.NewConfigValidationFieldRequiredError(testCfgPath+".nodes.0", "replay"))
	})

	t.Run("Split without topics", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes[0].Splitter.Splits = append(cfg.Nodes[0].Splitter.Splits, Split{Input: "obs2"})
		path := testCfgPath + ".nodes.0.splitter.splits.1"
		expected := multierr.Combine(
			utils.NewConfigValidationFieldRequiredError(path, "scan"),
			utils.NewConfigValidationFieldRequiredError(path, "odometry"),
		)
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError, expected)
	})

	t.Run("Grid slam without operator tunables", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes[1].GridSlam.ResampleThreshold = 0
		cfg.Nodes[1].GridSlam.MotionNoise = nil
		path := testCfgPath + ".nodes.1.grid_slam"
		expected := multierr.Combine(
			utils.NewConfigValidationFieldRequiredError(path, "resample_threshold"),
			utils.NewConfigValidationFieldRequiredError(path, "motion_noise"),
		)
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError, expected)
	})

	t.Run("Grid slam with out of range values", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes[1].GridSlam.ResampleThreshold = 1.5
		cfg.Nodes[1].GridSlam.Particles = 0
		cfg.Nodes[1].GridSlam.Grid.Resolution = 0
		err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, multierr.Errors(err), test.ShouldHaveLength, 3)
		test.That(t, err.Error(), test.ShouldContainSubstring, "resample_threshold must be in (0, 1], got 1.5")
		test.That(t, err.Error(), test.ShouldContainSubstring, `"particles" is required`)
	})

	t.Run("Scan matcher weighting", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes = append(cfg.Nodes, NodeConfig{
			Name: "icp",
			Kind: KindScanMatcher,
			ScanMatcher: &ScanMatcherParams{
				Scan: "scan",
				Pose: "icp_pose",
				ICP:  ICPParams{Weighting: icp.WeightingConfig{Kind: "huber"}},
			},
		})
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError,
			utils.NewConfigValidationError(testCfgPath+".nodes.3.icp", errors.New(`unknown correspondence weighting "huber"`)))

		cfg.Nodes[3].ScanMatcher.ICP.Weighting.Kind = icp.WeightingStep
		cfg.Nodes[3].ScanMatcher.ICP.Weighting.Threshold = 0.3
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeNil)

		cfg.Nodes[3].ScanMatcher.Pose = ""
		test.That(t, cfg.Validate(testCfgPath).Error(), test.ShouldContainSubstring, "at least one of pose or odometry must be set")
	})

	t.Run("Negative settings", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Settings.TickRateHz = -1
		test.That(t, cfg.Validate(testCfgPath), test.ShouldBeError,
			utils.NewConfigValidationError(testCfgPath+".settings", errors.New("cannot specify tick_rate_hz less than zero")))
	})

	t.Run("ValidateAndFill wraps errors", func(t *testing.T) {
		cfg := &Config{}
		_, err := ValidateAndFill(cfg, testCfgPath, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeError,
			newError(utils.NewConfigValidationFieldRequiredError(testCfgPath, "nodes").Error()))
	})
}

func TestGetOptionalParameters(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("Pass default parameters", func(t *testing.T) {
		cfg := makeGraph()
		filled := GetOptionalParameters(cfg, logger)

		test.That(t, filled.Settings.FixedStepSec, test.ShouldEqual, DefaultFixedStepSec)
		test.That(t, filled.Settings.TimeoutSec, test.ShouldEqual, DefaultTimeoutSec)
		test.That(t, filled.Settings.CommandTopic, test.ShouldEqual, DefaultCommandTopic)

		slam := filled.Nodes[1].GridSlam
		test.That(t, slam.Pose, test.ShouldEqual, DefaultPoseTopic)
		test.That(t, slam.Map, test.ShouldEqual, DefaultMapTopic)
		test.That(t, slam.Command, test.ShouldEqual, DefaultCommandTopic)
		test.That(t, *slam.SensorModel, test.ShouldResemble, grid.DefaultSensorModel())
		test.That(t, *slam.Likelihood, test.ShouldResemble, gridslam.DefaultLikelihood())
		test.That(t, *slam.Seed, test.ShouldEqual, 3)

		rec := filled.Nodes[2].Recorder
		test.That(t, rec.Pose, test.ShouldEqual, DefaultPoseTopic)
		test.That(t, rec.Map, test.ShouldEqual, DefaultMapTopic)

		// the input is left untouched
		test.That(t, cfg.Settings.FixedStepSec, test.ShouldEqual, 0)
		test.That(t, cfg.Nodes[1].GridSlam.SensorModel, test.ShouldBeNil)
		test.That(t, cfg.Nodes[1].GridSlam.Pose, test.ShouldEqual, "")
	})

	t.Run("Return overrides", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Settings.TickRateHz = 10
		cfg.Settings.CommandTopic = "cmd"
		seed := int64(42)
		cfg.Nodes[1].GridSlam.Seed = &seed
		cfg.Nodes[1].GridSlam.Pose = "slam_pose"
		cfg.Nodes[1].GridSlam.ScanMatch = &ICPParams{MaxIterations: 5}
		filled := GetOptionalParameters(cfg, logger)

		test.That(t, filled.Settings.FixedStepSec, test.ShouldEqual, 0)
		slam := filled.Nodes[1].GridSlam
		test.That(t, slam.Pose, test.ShouldEqual, "slam_pose")
		test.That(t, slam.Command, test.ShouldEqual, "cmd")
		test.That(t, *slam.Seed, test.ShouldEqual, 42)
		test.That(t, slam.ScanMatch.MaxIterations, test.ShouldEqual, 5)
		test.That(t, slam.ScanMatch.Epsilon, test.ShouldEqual, DefaultICPEpsilon)
	})

	t.Run("Scan matcher defaults", func(t *testing.T) {
		cfg := makeGraph()
		cfg.Nodes = append(cfg.Nodes, NodeConfig{
			Name:        "icp",
			Kind:        KindScanMatcher,
			ScanMatcher: &ScanMatcherParams{Scan: "scan", Odometry: "icp_odom"},
		})
		p := GetOptionalParameters(cfg, logger).Nodes[3].ScanMatcher
		test.That(t, p.VoxelSize, test.ShouldEqual, DefaultVoxelSize)
		test.That(t, p.MaxPoints, test.ShouldEqual, DefaultScanMatcherPoints)
		test.That(t, p.ICP.MaxIterations, test.ShouldEqual, DefaultICPMaxIterations)

		icpCfg, err := p.ICP.ICPConfig()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, icpCfg.Weighting, test.ShouldResemble, icp.UniformWeighting{})
	})
}

func TestFromAttributes(t *testing.T) {
	attrs := map[string]interface{}{
		"settings": map[string]interface{}{"seed": 9, "tick_rate_hz": 5},
		"nodes": []interface{}{
			map[string]interface{}{
				"name": "split",
				"kind": "splitter",
				"splitter": map[string]interface{}{
					"splits": []interface{}{
						map[string]interface{}{"input": "obs", "scan": "scan", "odometry": "odom"},
					},
				},
			},
		},
	}
	cfg, err := FromAttributes(attrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Settings.Seed, test.ShouldEqual, 9)
	test.That(t, cfg.Settings.TickRateHz, test.ShouldEqual, 5)
	test.That(t, cfg.Nodes, test.ShouldHaveLength, 1)
	test.That(t, cfg.Nodes[0].Kind, test.ShouldEqual, KindSplitter)
	test.That(t, cfg.Nodes[0].Splitter.Splits[0].Odometry, test.ShouldEqual, "odom")
	test.That(t, cfg.Validate(testCfgPath), test.ShouldBeNil)
}
