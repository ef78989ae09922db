package gridslam

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/viam-modules/viam-gridslam/grid"
	"github.com/viam-modules/viam-gridslam/messages"
)

// Normalize rescales weights in place so they sum to one. If the weights cannot be normalized
// because their sum is zero or not finite, they are reset to uniform and false is returned.
func Normalize(weights []float64) bool {
	if len(weights) == 0 {
		return true
	}
	sum := floats.Sum(weights)
	if !(sum > 0) || math.IsInf(sum, 0) {
		uniform := 1 / float64(len(weights))
		for i := range weights {
			weights[i] = uniform
		}
		return false
	}
	floats.Scale(1/sum, weights)
	return true
}

// EffectiveSampleSize returns 1 / sum(w_i^2) of normalized weights.
func EffectiveSampleSize(weights []float64) float64 {
	return 1 / floats.Dot(weights, weights)
}

// SystematicResample draws len(weights) particles with probability proportional to their normalized
// weight using a single offset in [0, 1/N). The index of the source particle of slot m is written to
// indices[m]; indices are non-decreasing.
func SystematicResample(weights []float64, offset float64, indices []int) {
	n := len(weights)
	if n == 0 {
		return
	}
	step := 1 / float64(n)
	cumulative := weights[0]
	i := 0
	for m := 0; m < n; m++ {
		u := offset + float64(m)*step
		for u > cumulative && i < n-1 {
			i++
			cumulative += weights[i]
		}
		indices[m] = i
	}
}

// Sample draws a pose from the motion model for moving by delta from pose.
func (m MotionNoise) Sample(rng *rand.Rand, pose messages.Pose2D, delta messages.OdometryDelta) messages.Pose2D {
	sigmaLinear := m.Linear * delta.Translation()
	sigmaAngular := m.Angular * math.Abs(delta.DTheta)
	return pose.Compose(messages.OdometryDelta{
		DX:     delta.DX + rng.NormFloat64()*sigmaLinear,
		DY:     delta.DY + rng.NormFloat64()*sigmaLinear,
		DTheta: delta.DTheta + rng.NormFloat64()*sigmaAngular,
	})
}

// LogLikelihood returns the log of p(scan | pose, g). Invalid measurements do not contribute; end
// points outside the grid score like an unknown cell.
func (l Likelihood) LogLikelihood(g *grid.Grid, pose messages.Pose2D, scan messages.ScanObservation) float64 {
	random := (1 - l.ZHit) / l.MaxRange
	outside := math.Log(l.ZHit*grid.ToProbability(0) + random)
	sum := 0.0
	for _, m := range scan.Measurements {
		if !m.Valid {
			continue
		}
		c, ok := g.WorldToCell(pose.Transform(m.Point()))
		if !ok {
			sum += outside
			continue
		}
		sum += math.Log(l.ZHit*g.Probability(c) + random)
	}
	return sum
}
