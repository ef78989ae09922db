package icp

import (
	"math"

	"github.com/pkg/errors"
)

// Weighting maps the euclidean distance of a correspondence to the scalar weight used when solving
// for the transform. Implementations must return values in [0, 1].
type Weighting interface {
	Weight(distance float64) float64
}

// UniformWeighting gives every correspondence full weight.
type UniformWeighting struct{}

// Weight returns 1.
func (UniformWeighting) Weight(float64) float64 { return 1 }

// StepWeighting ignores correspondences at or beyond Threshold meters.
type StepWeighting struct {
	Threshold float64
}

// Weight returns 1 for distances below the threshold and 0 otherwise.
func (w StepWeighting) Weight(distance float64) float64 {
	if distance < w.Threshold {
		return 1
	}
	return 0
}

// CauchyWeighting decays smoothly with distance, reaching 0.5 at Scale meters.
type CauchyWeighting struct {
	Scale float64
}

// Weight returns 1 / (1 + (distance/scale)^2).
func (w CauchyWeighting) Weight(distance float64) float64 {
	r := distance / w.Scale
	return 1 / (1 + r*r)
}

// Weighting kinds accepted by WeightingConfig.
const (
	WeightingUniform = "uniform"
	WeightingStep    = "step"
	WeightingCauchy  = "cauchy"
)

// WeightingConfig selects a Weighting by name.
type WeightingConfig struct {
	Kind      string  `json:"kind"`
	Threshold float64 `json:"threshold,omitempty"`
	Scale     float64 `json:"scale,omitempty"`
}

// Build returns the configured Weighting. An empty kind selects uniform weighting.
func (c WeightingConfig) Build() (Weighting, error) {
	switch c.Kind {
	case "", WeightingUniform:
		return UniformWeighting{}, nil
	case WeightingStep:
		if !(c.Threshold > 0) || math.IsInf(c.Threshold, 0) {
			return nil, errors.Errorf("step weighting needs a positive threshold, got %v", c.Threshold)
		}
		return StepWeighting{Threshold: c.Threshold}, nil
	case WeightingCauchy:
		if !(c.Scale > 0) || math.IsInf(c.Scale, 0) {
			return nil, errors.Errorf("cauchy weighting needs a positive scale, got %v", c.Scale)
		}
		return CauchyWeighting{Scale: c.Scale}, nil
	default:
		return nil, errors.Errorf("unknown correspondence weighting %q", c.Kind)
	}
}
