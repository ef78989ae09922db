package dataprocess

import (
	"bytes"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	pc "go.viam.com/rdk/pointcloud"
	"go.viam.com/test"

	"github.com/viam-modules/viam-gridslam/messages"
)

func snapshot() messages.OccupancyGridSnapshot {
	// 3x2 grid of 50 cm cells with the lower left corner at (-0.5, 0)
	return messages.OccupancyGridSnapshot{
		Origin:     r2.Point{X: -0.5},
		Resolution: 0.5,
		Width:      3,
		Height:     2,
		Cells:      []float64{0, 5, -2, 0, 0, 10},
	}
}

func TestCreateTimestampFilename(t *testing.T) {
	dataDirectory := "/path/to/data"
	prefix := "gridslam"
	fileType := ".pcd"
	timestamp := time.Date(2023, 3, 1, 12, 30, 15, 500000000, time.UTC)

	filename := CreateTimestampFilename(dataDirectory, prefix, fileType, timestamp)
	test.That(t, filename, test.ShouldEqual, "/path/to/data/gridslam_data_2023-03-01T12:30:15.5000Z.pcd")
}

func TestSnapshotToPointCloud(t *testing.T) {
	cloud, err := SnapshotToPointCloud(snapshot())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)

	d, ok := cloud.At(250, 250, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Color(), test.ShouldResemble, &color.NRGBA{R: 100, B: 99})

	d, ok = cloud.At(750, 750, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Color(), test.ShouldResemble, &color.NRGBA{R: 100, B: 100})

	// free cells are not part of the cloud
	_, ok = cloud.At(250, 750, 0)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestWriteMapToFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "map.pcd")
	test.That(t, WriteMapToFile(snapshot(), filename), test.ShouldBeNil)

	f, err := os.Open(filename)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	cloud, err := pc.ReadPCD(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)

	t.Run("errors on a missing directory", func(t *testing.T) {
		err := WriteMapToFile(snapshot(), filepath.Join(dir, "missing", "map.pcd"))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestWritePCDToFile(t *testing.T) {
	cloud := pc.New()
	test.That(t, cloud.Set(r3.Vector{X: 1, Y: 2}, pc.NewColoredData(color.NRGBA{R: 255, A: 255})), test.ShouldBeNil)

	filename := filepath.Join(t.TempDir(), "cloud.pcd")
	test.That(t, WritePCDToFile(cloud, filename), test.ShouldBeNil)

	b, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bytes.HasPrefix(b, []byte("VERSION .7")), test.ShouldBeTrue)
}

func TestWriteJSONToFile(t *testing.T) {
	poses := []messages.Pose2D{{}, {X: 1, Y: 2, Theta: 0.5}}
	filename := filepath.Join(t.TempDir(), "trajectory.json")
	test.That(t, WriteJSONToFile(poses, filename), test.ShouldBeNil)

	b, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)
	var read []messages.Pose2D
	test.That(t, json.Unmarshal(b, &read), test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, poses)
}
