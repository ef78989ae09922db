package nodes

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-gridslam/bus"
	"github.com/viam-modules/viam-gridslam/config"
	"github.com/viam-modules/viam-gridslam/icp"
	"github.com/viam-modules/viam-gridslam/messages"
	"github.com/viam-modules/viam-gridslam/telemetry"
)

type voxel struct {
	x, y int64
}

type mapPoint struct {
	point  r2.Point
	normal r2.Point
	voxel  voxel
}

// pointMap is a world frame point cloud with one point per voxel. When it holds more than limit
// points, the oldest are dropped.
type pointMap struct {
	size   float64
	limit  int
	points []mapPoint
	voxels map[voxel]struct{}
}

func newPointMap(size float64, limit int) *pointMap {
	return &pointMap{size: size, limit: limit, voxels: map[voxel]struct{}{}}
}

func (m *pointMap) voxelOf(p r2.Point) voxel {
	return voxel{x: int64(math.Floor(p.X / m.size)), y: int64(math.Floor(p.Y / m.size))}
}

// insert adds the scan points, given in the frame of pose, to the map.
func (m *pointMap) insert(pose messages.Pose2D, points []r2.Point) {
	normals := icp.Normals(points)
	rotation := messages.Pose2D{Theta: pose.Theta}
	for i, p := range points {
		world := pose.Transform(p)
		v := m.voxelOf(world)
		if _, ok := m.voxels[v]; ok {
			continue
		}
		m.voxels[v] = struct{}{}
		m.points = append(m.points, mapPoint{point: world, normal: rotation.Transform(normals[i]), voxel: v})
	}
	if m.limit > 0 && len(m.points) > m.limit {
		for _, old := range m.points[:len(m.points)-m.limit] {
			delete(m.voxels, old.voxel)
		}
		m.points = append([]mapPoint(nil), m.points[len(m.points)-m.limit:]...)
	}
}

func (m *pointMap) target() (*icp.Target, error) {
	points := make([]r2.Point, len(m.points))
	normals := make([]r2.Point, len(m.points))
	for i, p := range m.points {
		points[i] = p.point
		normals[i] = p.normal
	}
	return icp.NewTargetWithNormals(points, normals)
}

// ScanMatcher tracks the pose of the sensor by aligning every scan to an incrementally built point
// map. It publishes the pose and the scan matched motion since the previous scan.
type ScanMatcher struct {
	name    string
	logger  logging.Logger
	metrics *telemetry.Metrics
	cfg     icp.Config

	scan     *bus.Subscription[messages.ScanObservation]
	pose     *bus.Publisher[messages.Pose2D]
	odometry *bus.Publisher[messages.OdometryDelta]

	points  *pointMap
	current messages.Pose2D
	last    *icp.Result
}

func newScanMatcher(
	name string,
	params *config.ScanMatcherParams,
	b *bus.Bus,
	logger logging.Logger,
	metrics *telemetry.Metrics,
) (*ScanMatcher, error) {
	cfg, err := params.ICP.ICPConfig()
	if err != nil {
		return nil, err
	}
	n := &ScanMatcher{
		name:    name,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		points:  newPointMap(params.VoxelSize, params.MaxPoints),
	}
	if n.scan, err = bus.NewSubscription[messages.ScanObservation](b, params.Scan); err != nil {
		return nil, err
	}
	if params.Pose != "" {
		if n.pose, err = bus.NewPublisher[messages.Pose2D](b, params.Pose); err != nil {
			return nil, err
		}
	}
	if params.Odometry != "" {
		if n.odometry, err = bus.NewPublisher[messages.OdometryDelta](b, params.Odometry); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Name returns the node name.
func (n *ScanMatcher) Name() string { return n.name }

// Bindings returns the scan topic and whichever outputs are configured.
func (n *ScanMatcher) Bindings() []bus.Binding {
	out := bindings(n.scan)
	if n.pose != nil {
		out = append(out, n.pose.Binding())
	}
	if n.odometry != nil {
		out = append(out, n.odometry.Binding())
	}
	return out
}

// Pose returns the current pose estimate.
func (n *ScanMatcher) Pose() messages.Pose2D { return n.current }

// MapSize returns the number of points in the map.
func (n *ScanMatcher) MapSize() int { return len(n.points.points) }

// LastMatch returns the result of the latest alignment, nil before the second scan.
func (n *ScanMatcher) LastMatch() *icp.Result { return n.last }

// Step aligns the scan of this tick, if any. The first scan seeds the map at the origin. Scans that
// are malformed or fail to converge are skipped with a warning and produce no output.
func (n *ScanMatcher) Step(ctx context.Context, dt time.Duration) error {
	scan, ok := n.scan.Latest()
	if !ok {
		return nil
	}
	if err := scan.Validate(); err != nil {
		n.logger.Warnw("skipping malformed scan", "error", err)
		n.metrics.ObserveMalformedScan(n.name)
		return nil
	}
	points := scan.Points()
	if len(points) == 0 {
		n.logger.Warn("skipping scan without valid measurements")
		n.metrics.ObserveMalformedScan(n.name)
		return nil
	}

	if n.MapSize() == 0 {
		n.points.insert(n.current, points)
		n.publish(messages.OdometryDelta{})
		return nil
	}

	target, err := n.points.target()
	if err != nil {
		return err
	}
	result := icp.Match(points, target, n.current, n.cfg)
	n.last = &result
	n.metrics.ObserveMatch(n.name, result)
	if !result.Converged {
		n.logger.Warnw("scan match did not converge", "iterations", result.Iterations, "residual", result.Residual)
		return nil
	}
	n.logger.Debugw("scan matched", "iterations", result.Iterations, "residual", result.Residual)

	delta := n.current.Between(result.Transform)
	n.current = result.Transform
	n.points.insert(n.current, points)
	n.publish(delta)
	return nil
}

func (n *ScanMatcher) publish(delta messages.OdometryDelta) {
	if n.pose != nil {
		n.pose.Publish(n.current)
	}
	if n.odometry != nil {
		n.odometry.Publish(delta)
	}
}
