package messages

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestAngleDiff(t *testing.T) {
	test.That(t, AngleDiff(math.Pi, math.Pi), test.ShouldAlmostEqual, 0.0)
	test.That(t, AngleDiff(-math.Pi, math.Pi), test.ShouldAlmostEqual, 0.0)
	test.That(t, AngleDiff(0, math.Pi), test.ShouldAlmostEqual, -math.Pi)
	test.That(t, AngleDiff(math.Pi, 0), test.ShouldAlmostEqual, -math.Pi)
	test.That(t, AngleDiff(0, math.Pi/2), test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, AngleDiff(math.Pi/2, 0), test.ShouldAlmostEqual, -math.Pi/2)
	test.That(t, AngleDiff(math.Pi, math.Pi/2), test.ShouldAlmostEqual, -math.Pi/2)
	test.That(t, AngleDiff(math.Pi/2, math.Pi), test.ShouldAlmostEqual, math.Pi/2)
}

func TestPoseCompose(t *testing.T) {
	t.Run("identity delta keeps the pose", func(t *testing.T) {
		p := Pose2D{X: 1, Y: -2, Theta: 0.5}
		got := p.Compose(OdometryDelta{})
		test.That(t, got.X, test.ShouldEqual, p.X)
		test.That(t, got.Y, test.ShouldEqual, p.Y)
		test.That(t, got.Theta, test.ShouldAlmostEqual, p.Theta)
	})

	t.Run("delta is applied in the robot frame", func(t *testing.T) {
		p := Pose2D{Theta: math.Pi / 2}
		got := p.Compose(OdometryDelta{DX: 1, DTheta: math.Pi / 2})
		test.That(t, got.X, test.ShouldAlmostEqual, 0.0, 1e-12)
		test.That(t, got.Y, test.ShouldAlmostEqual, 1.0, 1e-12)
		test.That(t, got.Theta, test.ShouldAlmostEqual, -math.Pi, 1e-12)
	})

	t.Run("transform matches compose for points", func(t *testing.T) {
		p := Pose2D{X: 0.3, Y: 0.1, Theta: -0.7}
		got := p.Transform(r2.Point{X: 1, Y: 2})
		moved := p.Compose(OdometryDelta{DX: 1, DY: 2})
		test.That(t, got.X, test.ShouldAlmostEqual, moved.X, 1e-12)
		test.That(t, got.Y, test.ShouldAlmostEqual, moved.Y, 1e-12)
	})
}

func TestPoseBetween(t *testing.T) {
	p := Pose2D{X: 1, Y: 2, Theta: 0.4}
	delta := OdometryDelta{DX: 0.3, DY: -0.2, DTheta: 0.25}
	got := p.Between(p.Compose(delta))
	test.That(t, got.DX, test.ShouldAlmostEqual, delta.DX, 1e-12)
	test.That(t, got.DY, test.ShouldAlmostEqual, delta.DY, 1e-12)
	test.That(t, got.DTheta, test.ShouldAlmostEqual, delta.DTheta, 1e-12)

	chained := delta.Then(OdometryDelta{DX: 0.1, DTheta: -0.25})
	want := p.Compose(delta).Compose(OdometryDelta{DX: 0.1, DTheta: -0.25})
	end := p.Compose(chained)
	test.That(t, end.X, test.ShouldAlmostEqual, want.X, 1e-12)
	test.That(t, end.Y, test.ShouldAlmostEqual, want.Y, 1e-12)
	test.That(t, end.Theta, test.ShouldAlmostEqual, want.Theta, 1e-12)
}

func TestSpatialPose(t *testing.T) {
	pose := Pose2D{X: 1.5, Y: -0.25, Theta: math.Pi / 2}.SpatialPose()
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 1500.0)
	test.That(t, pose.Point().Y, test.ShouldAlmostEqual, -250.0)
	test.That(t, pose.Orientation().OrientationVectorDegrees().Theta, test.ShouldAlmostEqual, 90.0, 1e-9)
}

func TestScanValidate(t *testing.T) {
	t.Run("empty scan is malformed", func(t *testing.T) {
		test.That(t, ScanObservation{}.Validate(), test.ShouldBeError, ErrEmptyScan)
	})

	t.Run("non-finite values are malformed", func(t *testing.T) {
		scan := ScanObservation{Measurements: []Measurement{
			{Angle: 0, Distance: 1, Valid: true},
			{Angle: math.NaN(), Distance: 1, Valid: true},
		}}
		test.That(t, scan.Validate(), test.ShouldNotBeNil)

		scan.Measurements[1] = Measurement{Angle: 0, Distance: math.Inf(1), Valid: true}
		test.That(t, scan.Validate(), test.ShouldNotBeNil)
	})

	t.Run("negative distance is malformed", func(t *testing.T) {
		scan := ScanObservation{Measurements: []Measurement{{Distance: -1, Valid: true}}}
		test.That(t, scan.Validate(), test.ShouldNotBeNil)
	})

	t.Run("well formed scan", func(t *testing.T) {
		scan := NewScanFromPoints([]r2.Point{{X: 1, Y: 0}, {X: 0, Y: 2}})
		test.That(t, scan.Validate(), test.ShouldBeNil)
	})
}

func TestScanPoints(t *testing.T) {
	in := []r2.Point{{X: 1, Y: 0}, {X: 0, Y: 2}, {X: -1, Y: -1}}
	scan := NewScanFromPoints(in)
	scan.Measurements = append(scan.Measurements, Measurement{Angle: 1, Distance: 3, Valid: false})

	points := scan.Points()
	test.That(t, len(points), test.ShouldEqual, len(in))
	for i, p := range points {
		test.That(t, p.X, test.ShouldAlmostEqual, in[i].X, 1e-12)
		test.That(t, p.Y, test.ShouldAlmostEqual, in[i].Y, 1e-12)
	}
}

func TestSnapshotAccessors(t *testing.T) {
	snap := OccupancyGridSnapshot{
		Origin:     r2.Point{X: -1, Y: -1},
		Resolution: 0.5,
		Width:      4,
		Height:     4,
		Cells:      make([]float64, 16),
	}
	snap.Cells[1*4+2] = 2

	test.That(t, snap.Occupied(2, 1), test.ShouldBeTrue)
	test.That(t, snap.Occupied(1, 2), test.ShouldBeFalse)
	test.That(t, snap.Probability(0, 0), test.ShouldAlmostEqual, 0.5)
	test.That(t, snap.Probability(2, 1), test.ShouldBeGreaterThan, 0.5)

	center := snap.CellCenter(2, 1)
	test.That(t, center.X, test.ShouldAlmostEqual, 0.25)
	test.That(t, center.Y, test.ShouldAlmostEqual, -0.25)
}
