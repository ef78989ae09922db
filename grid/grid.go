// Package grid implements a log-odds occupancy grid and the ray integration of lidar scans into it.
package grid

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/viam-modules/viam-gridslam/messages"
)

// Cell addresses a single grid cell. Column grows with world x, Row with world y.
type Cell struct {
	Column int
	Row    int
}

// Config describes the placement and size of a grid.
type Config struct {
	// Origin is the world position of the lower left corner of the grid.
	Origin     r2.Point `json:"origin"`
	Resolution float64  `json:"resolution"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
}

// Validate returns an error if the grid cannot be allocated.
func (c Config) Validate() error {
	if !(c.Resolution > 0) || math.IsInf(c.Resolution, 0) {
		return errors.Errorf("resolution must be positive and finite, got %v", c.Resolution)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("width and height must be positive, got %dx%d", c.Width, c.Height)
	}
	if math.IsNaN(c.Origin.X) || math.IsNaN(c.Origin.Y) || math.IsInf(c.Origin.X, 0) || math.IsInf(c.Origin.Y, 0) {
		return errors.Errorf("origin must be finite, got %v", c.Origin)
	}
	return nil
}

// Grid is a fixed-size occupancy grid storing one log-odds value per cell. Every value stays within
// [-ClampLimit, ClampLimit] of its sensor model. A zero value means unknown.
type Grid struct {
	cfg   Config
	model SensorModel
	cells []float64

	freeIncrement     float64
	occupiedIncrement float64
}

// New allocates an unknown grid.
func New(cfg Config, model SensorModel) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &Grid{
		cfg:               cfg,
		model:             model,
		cells:             make([]float64, cfg.Width*cfg.Height),
		freeIncrement:     model.FreeIncrement(),
		occupiedIncrement: model.OccupiedIncrement(),
	}, nil
}

// Config returns the placement and size of the grid.
func (g *Grid) Config() Config {
	return g.cfg
}

// Width returns the number of columns.
func (g *Grid) Width() int {
	return g.cfg.Width
}

// Height returns the number of rows.
func (g *Grid) Height() int {
	return g.cfg.Height
}

// InBounds reports whether c addresses a cell of the grid.
func (g *Grid) InBounds(c Cell) bool {
	return c.Column >= 0 && c.Column < g.cfg.Width && c.Row >= 0 && c.Row < g.cfg.Height
}

// WorldToCell returns the cell containing the world point p and whether that cell lies inside the grid.
func (g *Grid) WorldToCell(p r2.Point) (Cell, bool) {
	c := cellOf(g.toGrid(p))
	return c, g.InBounds(c)
}

// CellCenter returns the world coordinates of the center of c.
func (g *Grid) CellCenter(c Cell) r2.Point {
	return r2.Point{
		X: g.cfg.Origin.X + (float64(c.Column)+0.5)*g.cfg.Resolution,
		Y: g.cfg.Origin.Y + (float64(c.Row)+0.5)*g.cfg.Resolution,
	}
}

// LogOdds returns the value of c. Cells outside the grid are unknown.
func (g *Grid) LogOdds(c Cell) float64 {
	if !g.InBounds(c) {
		return 0
	}
	return g.cells[g.index(c)]
}

// Probability returns the occupancy probability of c, derived from its log-odds.
func (g *Grid) Probability(c Cell) float64 {
	return ToProbability(g.LogOdds(c))
}

// Occupied reports whether c is more likely occupied than not.
func (g *Grid) Occupied(c Cell) bool {
	return g.LogOdds(c) > 0
}

// Update adds delta to the log-odds of c and clamps the result. It returns false and leaves the grid
// untouched if c lies outside the grid.
func (g *Grid) Update(c Cell, delta float64) bool {
	if !g.InBounds(c) {
		return false
	}
	g.add(g.index(c), delta)
	return true
}

// RayCells calls visit for every in-bounds cell crossed by the segment between the world points
// from and to, ordered from from.
func (g *Grid) RayCells(from, to r2.Point, visit func(Cell)) {
	g.ray(g.toGrid(from), g.toGrid(to), visit)
}

// Integrate fuses one scan taken at pose into the grid. Cells containing the end point of a valid
// measurement receive the occupied increment once. All other cells crossed by a ray receive the free
// increment once per ray. Invalid measurements only clear free space. It returns the number of valid
// end points that fell outside the grid and were dropped.
func (g *Grid) Integrate(pose messages.Pose2D, scan messages.ScanObservation) int {
	start := g.toGrid(pose.Position())
	ends := make([]r2.Point, len(scan.Measurements))
	hits := make(map[int]struct{}, len(scan.Measurements))
	dropped := 0

	for i, m := range scan.Measurements {
		ends[i] = g.toGrid(pose.Transform(m.Point()))
		if !m.Valid {
			continue
		}
		if c := cellOf(ends[i]); g.InBounds(c) {
			hits[g.index(c)] = struct{}{}
		} else {
			dropped++
		}
	}

	for _, end := range ends {
		g.ray(start, end, func(c Cell) {
			idx := g.index(c)
			if _, hit := hits[idx]; hit {
				return
			}
			g.add(idx, g.freeIncrement)
		})
	}

	for idx := range hits {
		g.add(idx, g.occupiedIncrement)
	}
	return dropped
}

// CopyFrom overwrites the cells of g with those of src. Both grids must share the same size.
func (g *Grid) CopyFrom(src *Grid) error {
	if len(g.cells) != len(src.cells) {
		return errors.Errorf("cannot copy a %dx%d grid into a %dx%d grid", src.cfg.Width, src.cfg.Height, g.cfg.Width, g.cfg.Height)
	}
	copy(g.cells, src.cells)
	return nil
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	clone := *g
	clone.cells = append([]float64(nil), g.cells...)
	return &clone
}

// Reset marks every cell unknown.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i] = 0
	}
}

// Snapshot returns an immutable copy of the grid for publishing.
func (g *Grid) Snapshot() messages.OccupancyGridSnapshot {
	return messages.OccupancyGridSnapshot{
		Origin:     g.cfg.Origin,
		Resolution: g.cfg.Resolution,
		Width:      g.cfg.Width,
		Height:     g.cfg.Height,
		Cells:      append([]float64(nil), g.cells...),
	}
}

func (g *Grid) index(c Cell) int {
	return c.Row*g.cfg.Width + c.Column
}

func (g *Grid) add(idx int, delta float64) {
	limit := g.model.ClampLimit
	g.cells[idx] = math.Max(-limit, math.Min(limit, g.cells[idx]+delta))
}

// toGrid converts world coordinates into continuous grid coordinates.
func (g *Grid) toGrid(p r2.Point) r2.Point {
	return r2.Point{
		X: (p.X - g.cfg.Origin.X) / g.cfg.Resolution,
		Y: (p.Y - g.cfg.Origin.Y) / g.cfg.Resolution,
	}
}

// ray visits the in-bounds cells between two points given in grid coordinates.
func (g *Grid) ray(start, end r2.Point, visit func(Cell)) {
	if !finite(start) || !finite(end) {
		return
	}
	start, end, ok := clipSegment(start, end, float64(g.cfg.Width), float64(g.cfg.Height))
	if !ok {
		return
	}
	traverse(start.X, start.Y, end.X, end.Y, func(c Cell) {
		if g.InBounds(c) {
			visit(c)
		}
	})
}

func cellOf(p r2.Point) Cell {
	return Cell{Column: int(math.Floor(p.X)), Row: int(math.Floor(p.Y))}
}

func finite(p r2.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
