package grid

import (
	"math"

	"github.com/golang/geo/r2"
)

// traverse visits every cell crossed by the segment from (x0, y0) to (x1, y1), given in grid
// coordinates where cell (c, r) covers [c, c+1) x [r, r+1). Cells are visited in order from
// the start; the last visited cell contains the end point.
func traverse(x0, y0, x1, y1 float64, visit func(Cell)) {
	dx := math.Abs(x1 - x0)
	dy := math.Abs(y1 - y0)

	x := int(math.Floor(x0))
	y := int(math.Floor(y0))

	n := 1
	var xInc, yInc int
	var errTerm float64

	switch {
	case dx == 0:
		errTerm = math.Inf(1)
	case x1 > x0:
		xInc = 1
		n += int(math.Floor(x1)) - x
		errTerm = (math.Floor(x0) + 1 - x0) * dy
	default:
		xInc = -1
		n += x - int(math.Floor(x1))
		errTerm = (x0 - math.Floor(x0)) * dy
	}

	switch {
	case dy == 0:
		errTerm -= math.Inf(1)
	case y1 > y0:
		yInc = 1
		n += int(math.Floor(y1)) - y
		errTerm -= (math.Floor(y0) + 1 - y0) * dx
	default:
		yInc = -1
		n += y - int(math.Floor(y1))
		errTerm -= (y0 - math.Floor(y0)) * dx
	}

	for ; n > 0; n-- {
		visit(Cell{Column: x, Row: y})

		if errTerm > 0 {
			y += yInc
			errTerm -= dx
		} else {
			x += xInc
			errTerm += dy
		}
	}
}

// clipSegment clips the segment p0-p1 to the rectangle [0, maxX] x [0, maxY] using the
// Liang-Barsky algorithm. End points already inside the rectangle are returned unchanged.
func clipSegment(p0, p1 r2.Point, maxX, maxY float64) (r2.Point, r2.Point, bool) {
	d := p1.Sub(p0)
	t0, t1 := 0.0, 1.0

	edges := [4][2]float64{
		{-d.X, p0.X},
		{d.X, maxX - p0.X},
		{-d.Y, p0.Y},
		{d.Y, maxY - p0.Y},
	}
	for _, edge := range edges {
		p, q := edge[0], edge[1]
		if p == 0 {
			if q < 0 {
				return r2.Point{}, r2.Point{}, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return r2.Point{}, r2.Point{}, false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return r2.Point{}, r2.Point{}, false
			}
			if r < t1 {
				t1 = r
			}
		}
	}

	start, end := p0, p1
	if t0 > 0 {
		start = p0.Add(d.Mul(t0))
	}
	if t1 < 1 {
		end = p0.Add(d.Mul(t1))
	}
	return start, end, true
}
