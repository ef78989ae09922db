package postprocess

import (
	"fmt"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-modules/viam-gridslam/messages"
)

type TestCase struct {
	msg string
	cmd interface{}
	err error
}

func TestParseDoCommand(t *testing.T) {
	for _, tc := range []TestCase{
		{
			msg: "errors if unstructuredPoints is not a slice",
			cmd: "hello",
			err: ErrPointsNotASlice,
		},
		{
			msg: "errors if unstructuredPoints is not a slice of maps",
			cmd: []interface{}{1},
			err: ErrPointNotAMap,
		},
		{
			msg: "errors if unstructuredPoints contains a point where X is not provided",
			cmd: []interface{}{map[string]interface{}{"Y": float64(2)}},
			err: ErrXNotProvided,
		},
		{
			msg: "errors if unstructuredPoints contains a point where X is not float64",
			cmd: []interface{}{map[string]interface{}{"X": 1, "Y": float64(2)}},
			err: ErrXNotFloat64,
		},
		{
			msg: "errors if unstructuredPoints contains a point where Y is not provided",
			cmd: []interface{}{map[string]interface{}{"X": float64(1)}},
			err: ErrYNotProvided,
		},
		{
			msg: "errors if unstructuredPoints contains a point where Y is not float64",
			cmd: []interface{}{map[string]interface{}{"X": float64(1), "Y": 2}},
			err: ErrYNotFloat64,
		},
	} {
		t.Run(fmt.Sprintf("%s for Add task", tc.msg), func(t *testing.T) {
			task, err := ParseDoCommand(tc.cmd, Add)
			test.That(t, err, test.ShouldBeError, tc.err)
			test.That(t, task, test.ShouldResemble, Task{})
		})

		t.Run(fmt.Sprintf("%s for Remove task", tc.msg), func(t *testing.T) {
			task, err := ParseDoCommand(tc.cmd, Remove)
			test.That(t, err, test.ShouldBeError, tc.err)
			test.That(t, task, test.ShouldResemble, Task{})
		})
	}

	t.Run("succeeds if unstructuredPoints is a slice of maps with float64 values", func(t *testing.T) {
		expectedPoint := r3.Vector{X: 1, Y: 2}
		task, err := ParseDoCommand([]interface{}{map[string]interface{}{"X": float64(1), "Y": float64(2)}}, Remove)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, task, test.ShouldResemble, Task{Instruction: Remove, Points: []r3.Vector{expectedPoint}})
	})
}

// emptyMap is a 1x1 m map with 10 cm cells whose lower left corner is at the origin.
func emptyMap() messages.OccupancyGridSnapshot {
	return messages.OccupancyGridSnapshot{
		Origin:     r2.Point{},
		Resolution: 0.1,
		Width:      10,
		Height:     10,
		Cells:      make([]float64, 100),
	}
}

func TestUpdateGrid(t *testing.T) {
	t.Run("added points become occupied", func(t *testing.T) {
		original := emptyMap()
		updated, err := UpdateGrid(original, []Task{{Instruction: Add, Points: []r3.Vector{{X: 250, Y: 730}}}}, 10)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, updated.LogOdds(2, 7), test.ShouldEqual, 10)
		test.That(t, updated.Occupied(2, 7), test.ShouldBeTrue)
		// the input is left untouched
		test.That(t, original.LogOdds(2, 7), test.ShouldEqual, 0)
	})

	t.Run("added points outside the map are an error", func(t *testing.T) {
		_, err := UpdateGrid(emptyMap(), []Task{{Instruction: Add, Points: []r3.Vector{{X: -10, Y: 500}}}}, 10)
		test.That(t, err, test.ShouldBeError, ErrPointOutsideMap)
	})

	t.Run("removed points clear the cells within the radius", func(t *testing.T) {
		full := emptyMap()
		for i := range full.Cells {
			full.Cells[i] = 5
		}
		updated, err := UpdateGrid(full, []Task{{Instruction: Remove, Points: []r3.Vector{{X: 500, Y: 500}}}}, 10)
		test.That(t, err, test.ShouldBeNil)
		// the four cells around (0.5, 0.5) have their centers 7 cm away
		for _, c := range [][2]int{{4, 4}, {4, 5}, {5, 4}, {5, 5}} {
			test.That(t, updated.LogOdds(c[0], c[1]), test.ShouldEqual, 0)
		}
		// (3, 5) has its center 15.8 cm away
		test.That(t, updated.LogOdds(3, 5), test.ShouldEqual, 5)
		test.That(t, updated.LogOdds(0, 0), test.ShouldEqual, 5)
	})

	t.Run("tasks are applied in order", func(t *testing.T) {
		tasks := []Task{
			{Instruction: Add, Points: []r3.Vector{{X: 450, Y: 450}, {X: 950, Y: 950}}},
			{Instruction: Remove, Points: []r3.Vector{{X: 500, Y: 500}}},
		}
		updated, err := UpdateGrid(emptyMap(), tasks, 10)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, updated.Occupied(4, 4), test.ShouldBeFalse)
		test.That(t, updated.Occupied(9, 9), test.ShouldBeTrue)
	})
}
