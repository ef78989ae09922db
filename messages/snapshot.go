package messages

import (
	"math"

	"github.com/golang/geo/r2"
)

// OccupancyGridSnapshot is an immutable copy of an occupancy grid, published for consumers
// outside the engine. Cells hold log-odds values in row-major order.
type OccupancyGridSnapshot struct {
	// Origin is the world position of the lower left corner of cell (0, 0).
	Origin r2.Point `json:"origin"`
	// Resolution is given in meters per cell.
	Resolution float64   `json:"resolution"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Cells      []float64 `json:"cells"`
}

// LogOdds returns the log-odds value of the cell at column, row.
func (s OccupancyGridSnapshot) LogOdds(column, row int) float64 {
	return s.Cells[row*s.Width+column]
}

// Probability returns the occupancy probability of the cell at column, row.
func (s OccupancyGridSnapshot) Probability(column, row int) float64 {
	return 1 - 1/(1+math.Exp(s.LogOdds(column, row)))
}

// Occupied reports whether the cell at column, row is believed to be occupied.
func (s OccupancyGridSnapshot) Occupied(column, row int) bool {
	return s.LogOdds(column, row) > 0
}

// CellCenter returns the world coordinates of the center of the cell at column, row.
func (s OccupancyGridSnapshot) CellCenter(column, row int) r2.Point {
	return r2.Point{
		X: s.Origin.X + (float64(column)+0.5)*s.Resolution,
		Y: s.Origin.Y + (float64(row)+0.5)*s.Resolution,
	}
}

// WorldToCell returns the column and row of the cell containing p. ok is false when p lies outside
// the grid.
func (s OccupancyGridSnapshot) WorldToCell(p r2.Point) (column, row int, ok bool) {
	column = int(math.Floor((p.X - s.Origin.X) / s.Resolution))
	row = int(math.Floor((p.Y - s.Origin.Y) / s.Resolution))
	ok = column >= 0 && column < s.Width && row >= 0 && row < s.Height
	return column, row, ok
}

// Clone returns a deep copy of the snapshot.
func (s OccupancyGridSnapshot) Clone() OccupancyGridSnapshot {
	s.Cells = append([]float64(nil), s.Cells...)
	return s
}
