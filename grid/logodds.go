package grid

import (
	"math"

	"github.com/pkg/errors"
)

// Default inverse sensor model values.
const (
	DefaultFreeProbability     = 0.30
	DefaultOccupiedProbability = 0.90
	DefaultClampLimit          = 10.0
)

// ToLogOdds converts a probability into log-odds.
func ToLogOdds(probability float64) float64 {
	return math.Log(probability / (1 - probability))
}

// ToProbability converts log-odds into a probability. It is monotonic in logOdds.
func ToProbability(logOdds float64) float64 {
	return 1 - 1/(1+math.Exp(logOdds))
}

// SensorModel is the inverse sensor model used to integrate rays into a grid.
type SensorModel struct {
	// FreeProbability is the occupancy probability assigned to cells a ray passes through.
	FreeProbability float64 `json:"free_probability"`
	// OccupiedProbability is the occupancy probability assigned to the cell a ray ends in.
	OccupiedProbability float64 `json:"occupied_probability"`
	// ClampLimit bounds every cell to [-ClampLimit, ClampLimit] in log-odds.
	ClampLimit float64 `json:"clamp_limit"`
}

// DefaultSensorModel returns the sensor model used when none is configured.
func DefaultSensorModel() SensorModel {
	return SensorModel{
		FreeProbability:     DefaultFreeProbability,
		OccupiedProbability: DefaultOccupiedProbability,
		ClampLimit:          DefaultClampLimit,
	}
}

// Validate checks that the model describes a free increment below zero and an occupied increment
// above zero.
func (m SensorModel) Validate() error {
	if !(m.FreeProbability > 0 && m.FreeProbability < 0.5) {
		return errors.Errorf("free_probability must be in (0, 0.5), got %v", m.FreeProbability)
	}
	if !(m.OccupiedProbability > 0.5 && m.OccupiedProbability < 1) {
		return errors.Errorf("occupied_probability must be in (0.5, 1), got %v", m.OccupiedProbability)
	}
	if !(m.ClampLimit > 0) || math.IsInf(m.ClampLimit, 0) {
		return errors.Errorf("clamp_limit must be positive and finite, got %v", m.ClampLimit)
	}
	return nil
}

// FreeIncrement is the log-odds change for a cell a ray passes through.
func (m SensorModel) FreeIncrement() float64 {
	return ToLogOdds(m.FreeProbability)
}

// OccupiedIncrement is the log-odds change for a cell a ray ends in.
func (m SensorModel) OccupiedIncrement() float64 {
	return ToLogOdds(m.OccupiedProbability)
}
