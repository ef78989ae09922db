package icp

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a target point that remembers its position in the target so its normal can be
// found after a nearest neighbour query.
type indexedPoint struct {
	r2.Point
	index int
}

var _ kdtree.Comparable = indexedPoint{}

// Compare returns the signed distance of p from the plane through c perpendicular to d.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	if d == 0 {
		return p.X - q.X
	}
	return p.Y - q.Y
}

// Dims returns the number of dimensions of the point.
func (p indexedPoint) Dims() int { return 2 }

// Distance returns the squared euclidean distance between p and c.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// indexedPoints implements kdtree.Interface.
type indexedPoints []indexedPoint

var _ kdtree.Interface = indexedPoints(nil)

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, Dim: d}.Pivot()
}
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts indexedPoints along one dimension.
type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	}
	return p.indexedPoints[i].Y < p.indexedPoints[j].Y
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

func newTree(points []r2.Point) *kdtree.Tree {
	if len(points) == 0 {
		return nil
	}
	indexed := make(indexedPoints, len(points))
	for i, p := range points {
		indexed[i] = indexedPoint{Point: p, index: i}
	}
	return kdtree.New(indexed, false)
}
