// Package icp aligns 2D point sets with point-to-plane iterative closest point.
package icp

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/viam-modules/viam-gridslam/messages"
)

// rcond is the relative singular value cutoff used when solving the normal equations.
const rcond = 1e-8

// Config bounds and tunes a single Match call.
type Config struct {
	MaxIterations int
	// Epsilon is compared against the norm of the (dx, dy, dtheta) update.
	Epsilon   float64
	Weighting Weighting
}

// Validate returns an error if the config cannot be used for matching.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return errors.Errorf("max iterations must be positive, got %d", c.MaxIterations)
	}
	if !(c.Epsilon > 0) {
		return errors.Errorf("epsilon must be positive, got %v", c.Epsilon)
	}
	if c.Weighting == nil {
		return errors.New("a correspondence weighting is required")
	}
	return nil
}

// Result is the outcome of a Match call.
type Result struct {
	// Transform maps source points into the target frame.
	Transform messages.Pose2D
	Converged bool
	// Residual is the weighted RMS point-to-plane error at Transform.
	Residual   float64
	Iterations int
	// Chi holds the weighted sum of squared residuals at the start of every iteration.
	Chi []float64
}

// Target is a reference surface: points with a unit normal each, indexed for nearest neighbour search.
type Target struct {
	points  []r2.Point
	normals []r2.Point
	tree    *kdtree.Tree
}

// NewTarget builds a target from ordered points, such as a single scan, estimating normals from
// neighbouring points.
func NewTarget(points []r2.Point) *Target {
	points = append([]r2.Point(nil), points...)
	return &Target{points: points, normals: Normals(points), tree: newTree(points)}
}

// NewTargetWithNormals builds a target from points whose normals are already known.
func NewTargetWithNormals(points, normals []r2.Point) (*Target, error) {
	if len(points) != len(normals) {
		return nil, errors.Errorf("got %d points but %d normals", len(points), len(normals))
	}
	points = append([]r2.Point(nil), points...)
	return &Target{points: points, normals: append([]r2.Point(nil), normals...), tree: newTree(points)}, nil
}

// Len returns the number of target points.
func (t *Target) Len() int {
	return len(t.points)
}

// Normals estimates a unit normal for every point of an ordered point sequence from its neighbours.
// End points use their single neighbour. Points without a usable neighbour get a zero normal, so
// they never contribute to a match.
func Normals(points []r2.Point) []r2.Point {
	normals := make([]r2.Point, len(points))
	if len(points) < 2 {
		return normals
	}
	for i := range points {
		prev, next := i-1, i+1
		if prev < 0 {
			prev = 0
		}
		if next >= len(points) {
			next = len(points) - 1
		}
		diff := points[next].Sub(points[prev])
		if norm := diff.Norm(); norm > 0 {
			normals[i] = diff.Ortho().Mul(1 / norm)
		}
	}
	return normals
}

// Match estimates the transform that aligns source to target, starting from initial. Running out of
// iterations is not an error; it is reported through Result.Converged.
func Match(source []r2.Point, target *Target, initial messages.Pose2D, cfg Config) Result {
	x := initial
	res := Result{Transform: x, Chi: make([]float64, 0, cfg.MaxIterations)}
	if len(source) == 0 || target == nil || target.tree == nil {
		return res
	}

	for res.Iterations < cfg.MaxIterations {
		res.Iterations++
		sys := target.system(source, x, cfg.Weighting)
		res.Chi = append(res.Chi, sys.chi)
		if sys.weightSum == 0 {
			break
		}

		dx, ok := solve(sys)
		if !ok {
			break
		}
		x = messages.Pose2D{
			X:     x.X + dx[0],
			Y:     x.Y + dx[1],
			Theta: messages.NormalizeAngle(x.Theta + dx[2]),
		}
		if floats.Norm(dx[:], 2) < cfg.Epsilon {
			res.Converged = true
			break
		}
	}

	res.Transform = x
	if final := target.system(source, x, cfg.Weighting); final.weightSum > 0 {
		res.Residual = math.Sqrt(final.chi / final.weightSum)
	}
	return res
}

// normalSystem is the weighted Gauss-Newton system H dx = -g.
type normalSystem struct {
	h         [9]float64
	g         [3]float64
	chi       float64
	weightSum float64
}

// system accumulates the point-to-plane normal equations of source transformed by x. Correspondences
// with zero weight are skipped entirely.
func (t *Target) system(source []r2.Point, x messages.Pose2D, weighting Weighting) normalSystem {
	var sys normalSystem
	sin, cos := math.Sincos(x.Theta)

	for _, p := range source {
		moved := x.Transform(p)
		nearest, _ := t.tree.Nearest(indexedPoint{Point: moved})
		if nearest == nil {
			continue
		}
		match := nearest.(indexedPoint)
		q, n := t.points[match.index], t.normals[match.index]

		diff := moved.Sub(q)
		w := weighting.Weight(diff.Norm())
		if w == 0 {
			continue
		}

		e := n.Dot(diff)
		// Derivative of R(theta)p with respect to theta, projected onto the normal.
		dTheta := r2.Point{X: -sin*p.X - cos*p.Y, Y: cos*p.X - sin*p.Y}
		j := [3]float64{n.X, n.Y, n.Dot(dTheta)}

		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				sys.h[r*3+c] += w * j[r] * j[c]
			}
			sys.g[r] += w * j[r] * e
		}
		sys.chi += w * e * e
		sys.weightSum += w
	}
	return sys
}

// solve returns the minimum norm least squares solution of H dx = -g. It returns false when H carries
// no information.
func solve(sys normalSystem) ([3]float64, bool) {
	var dx [3]float64

	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(3, 3, sys.h[:]), mat.SVDFull); !ok {
		return dx, false
	}
	rank := svd.Rank(rcond)
	if rank == 0 {
		return dx, false
	}

	rhs := mat.NewVecDense(3, []float64{-sys.g[0], -sys.g[1], -sys.g[2]})
	var sol mat.VecDense
	svd.SolveVecTo(&sol, rhs, rank)
	for i := range dx {
		dx[i] = sol.AtVec(i)
	}
	return dx, true
}
