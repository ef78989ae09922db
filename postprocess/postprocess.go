// Package postprocess contains functionality to postprocess occupancy grid maps
package postprocess

import (
	"errors"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/viam-modules/viam-gridslam/messages"
)

// Instruction describes the action of the postprocess step.
type Instruction int

const (
	// Add is the instruction for adding points.
	Add Instruction = iota
	// Remove is the instruction for removing points.
	Remove
)

const (
	removalRadius       = 100 // mm
	millimetersToMeters = 0.001
	xKey                = "X"
	yKey                = "Y"

	// ToggleCommand can be used to turn postprocessing on and off.
	ToggleCommand = "postprocess_toggle"
	// AddCommand can be used to add points to the map.
	AddCommand = "postprocess_add"
	// RemoveCommand can be used to remove points from the map.
	RemoveCommand = "postprocess_remove"
	// UndoCommand can be used to undo last postprocessing step.
	UndoCommand = "postprocess_undo"
)

var (
	// ErrPointsNotASlice denotes that the points have not been properly formatted as a slice.
	ErrPointsNotASlice = errors.New("could not parse provided points as a slice")

	// ErrPointNotAMap denotes that a point has not been properly formatted as a map.
	ErrPointNotAMap = errors.New("could not parse provided point as a map")

	// ErrXNotProvided denotes that an X value was not provided.
	ErrXNotProvided = errors.New("could not find X in provided point")

	// ErrXNotFloat64 denotes that an X value is not a float64.
	ErrXNotFloat64 = errors.New("could not parse provided X as a float64")

	// ErrYNotProvided denotes that a Y value was not provided.
	ErrYNotProvided = errors.New("could not find Y in provided point")

	// ErrYNotFloat64 denotes that an Y value is not a float64.
	ErrYNotFloat64 = errors.New("could not parse provided Y as a float64")

	// ErrPointOutsideMap denotes that an added point does not lie on the map.
	ErrPointOutsideMap = errors.New("point lies outside the map")
)

// Task can be used to construct a postprocessing step. Points are given in millimeters.
type Task struct {
	Instruction Instruction
	Points      []r3.Vector
}

// ParseDoCommand parses postprocessing DoCommands into Tasks.
func ParseDoCommand(
	unstructuredPoints interface{},
	instruction Instruction,
) (Task, error) {
	pointSlice, ok := unstructuredPoints.([]interface{})
	if !ok {
		return Task{}, ErrPointsNotASlice
	}

	task := Task{Instruction: instruction}
	for _, point := range pointSlice {
		pointMap, ok := point.(map[string]interface{})
		if !ok {
			return Task{}, ErrPointNotAMap
		}

		x, ok := pointMap[xKey]
		if !ok {
			return Task{}, ErrXNotProvided
		}

		xFloat, ok := x.(float64)
		if !ok {
			return Task{}, ErrXNotFloat64
		}

		y, ok := pointMap[yKey]
		if !ok {
			return Task{}, ErrYNotProvided
		}

		yFloat, ok := y.(float64)
		if !ok {
			return Task{}, ErrYNotFloat64
		}

		task.Points = append(task.Points, r3.Vector{X: xFloat, Y: yFloat})
	}
	return task, nil
}

/*
UpdateGrid applies the tasks in order to a copy of snapshot. Added points mark the cell containing
them as occupied with log-odds limit. Removed points mark every cell whose center lies within the
removal radius as unknown.
*/
func UpdateGrid(
	snapshot messages.OccupancyGridSnapshot,
	tasks []Task,
	limit float64,
) (messages.OccupancyGridSnapshot, error) {
	updated := snapshot.Clone()
	for _, task := range tasks {
		switch task.Instruction {
		case Add:
			if err := updateGridWithAddedPoints(&updated, task.Points, limit); err != nil {
				return messages.OccupancyGridSnapshot{}, err
			}
		case Remove:
			updateGridWithRemovedPoints(&updated, task.Points)
		}
	}
	return updated, nil
}

func toMeters(p r3.Vector) r2.Point {
	return r2.Point{X: p.X * millimetersToMeters, Y: p.Y * millimetersToMeters}
}

func updateGridWithAddedPoints(snapshot *messages.OccupancyGridSnapshot, points []r3.Vector, limit float64) error {
	for _, point := range points {
		column, row, ok := snapshot.WorldToCell(toMeters(point))
		if !ok {
			return ErrPointOutsideMap
		}
		snapshot.Cells[row*snapshot.Width+column] = limit
	}
	return nil
}

func updateGridWithRemovedPoints(snapshot *messages.OccupancyGridSnapshot, points []r3.Vector) {
	radius := removalRadius * millimetersToMeters
	for _, point := range points {
		center := toMeters(point)
		minColumn, minRow, _ := snapshot.WorldToCell(center.Sub(r2.Point{X: radius, Y: radius}))
		maxColumn, maxRow, _ := snapshot.WorldToCell(center.Add(r2.Point{X: radius, Y: radius}))
		for row := max(minRow, 0); row <= min(maxRow, snapshot.Height-1); row++ {
			for column := max(minColumn, 0); column <= min(maxColumn, snapshot.Width-1); column++ {
				if snapshot.CellCenter(column, row).Sub(center).Norm() <= radius {
					snapshot.Cells[row*snapshot.Width+column] = 0
				}
			}
		}
	}
}
