// Package main runs a gridslam session over a replayed square room and writes the resulting map.
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	viamgridslam "github.com/viam-modules/viam-gridslam"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/dataprocess"
	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/gridslam"
	"github.com/viam-modules/viam-gridslam/icp"
	"github.com/viam-modules/viam-gridslam/internal/room"
	"github.com/viam-modules/viam-gridslam/messages"
	"github.com/viam-modules/viam-gridslam/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

const (
	roomHalfSize = 2.0
	beams        = 360
	resolution   = 0.05
)

// Arguments for the command.
type Arguments struct {
	Debug     bool    `flag:"debug,usage=log at debug level"`
	Ticks     int     `flag:"ticks,default=100,usage=number of frames to replay"`
	Particles int     `flag:"particles,default=30,usage=number of particles"`
	Step      float64 `flag:"step,default=0.01,usage=meters moved between frames"`
	Config    string  `flag:"config,usage=json file with the node graph to run instead of the square room"`
	Out       string  `flag:"out,usage=directory the map and trajectory are written to (default: working directory)"`
	Telemetry bool    `flag:"telemetry,usage=report spans and stats to the console"`
	Version   bool    `flag:"version,usage=print the version and exit"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("gridslam"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	var versionFields []interface{}
	if Version != "" {
		versionFields = append(versionFields, "version", Version)
	}
	if GitRevision != "" {
		versionFields = append(versionFields, "git_rev", GitRevision)
	}
	if len(versionFields) != 0 {
		logger.Infow(viamgridslam.Model.String(), versionFields...)
	} else {
		logger.Info(viamgridslam.Model.String() + " built from source; version unknown")
	}
	if argsParsed.Version {
		return nil
	}

	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}

	if argsParsed.Telemetry {
		exporter, err := telemetry.SetupTelemetry(time.Second)
		if err != nil {
			return err
		}
		defer exporter.Stop()
	}

	cfg := roomConfig(argsParsed)
	if argsParsed.Config != "" {
		loaded, err := loadConfig(argsParsed.Config)
		if err != nil {
			return err
		}
		// a graph without a tick budget runs for -ticks ticks
		if loaded.Settings.MaxTicks == 0 {
			loaded.Settings.MaxTicks = argsParsed.Ticks
		}
		cfg = loaded
	}

	session, err := viamgridslam.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return session.Close(context.Background()) })

	if err := session.Wait(ctx); err != nil {
		return err
	}

	pose, _, err := session.Position(ctx)
	if err != nil {
		return err
	}
	logger.Infow("final pose", "x_mm", pose.Point().X, "y_mm", pose.Point().Y)

	snapshot, err := session.GridMap(ctx)
	if err != nil {
		return err
	}
	dir := argsParsed.Out
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}
	trajectory, err := session.Trajectory(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	filename := dataprocess.CreateTimestampFilename(dir, "gridslam", ".pcd", now)
	if err := dataprocess.WriteMapToFile(snapshot, filename); err != nil {
		return err
	}
	logger.Infof("map written to %s", filename)

	filename = dataprocess.CreateTimestampFilename(dir, "gridslam", ".json", now)
	if err := dataprocess.WriteJSONToFile(trajectory, filename); err != nil {
		return err
	}
	logger.Infof("trajectory of %d poses written to %s", len(trajectory), filename)
	return nil
}

// loadConfig reads a node graph from a json file.
func loadConfig(path string) (*config.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var attributes map[string]interface{}
	if err := json.Unmarshal(b, &attributes); err != nil {
		return nil, err
	}
	return config.FromAttributes(attributes)
}

// roomConfig replays a robot driving forward along the x axis of a square room, with its scans fed
// through a scan matcher whose odometry drives the particle filter.
func roomConfig(args Arguments) *config.Config {
	frames, _ := room.Frames(args.Ticks, messages.OdometryDelta{DX: args.Step}, roomHalfSize, beams)

	cells := int(2 * (roomHalfSize + 0.5) / resolution)
	return &config.Config{
		Settings: config.Settings{MaxTicks: args.Ticks, Seed: 1},
		Nodes: []config.NodeConfig{
			{
				Name:   "replay",
				Kind:   config.KindReplay,
				Replay: &config.ReplayParams{Output: "observation", Frames: frames},
			},
			{
				Name: "splitter",
				Kind: config.KindSplitter,
				Splitter: &config.SplitterParams{Splits: []config.Split{
					{Input: "observation", Scan: "scan", Odometry: "wheel_odometry"},
				}},
			},
			{
				Name: "matcher",
				Kind: config.KindScanMatcher,
				ScanMatcher: &config.ScanMatcherParams{
					Scan:     "scan",
					Pose:     "matcher_pose",
					Odometry: "odometry",
					ICP: config.ICPParams{
						Weighting: icp.WeightingConfig{Kind: icp.WeightingCauchy, Scale: 0.1},
					},
				},
			},
			{
				Name: "slam",
				Kind: config.KindGridSlam,
				GridSlam: &config.GridSlamParams{
					Scan:     "scan",
					Odometry: "odometry",
					Grid: grid.Config{
						Origin:     r2.Point{X: -roomHalfSize - 0.5, Y: -roomHalfSize - 0.5},
						Resolution: resolution,
						Width:      cells,
						Height:     cells,
					},
					Particles:         args.Particles,
					ResampleThreshold: 0.5,
					MotionNoise:       &gridslam.MotionNoise{Linear: 0.05, Angular: 0.05},
				},
			},
			{
				Name:     "recorder",
				Kind:     config.KindRecorder,
				Recorder: &config.RecorderParams{},
			},
		},
	}
}
