// Package dataprocess manages code related to exporting maps and trajectories.
package dataprocess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	pc "go.viam.com/rdk/pointcloud"

	"github.com/viam-modules/viam-gridslam/messages"
)

const (
	// SlamTimeFormat is the timestamp format used in the dataprocess.
	SlamTimeFormat = "2006-01-02T15:04:05.0000Z"
	// metersToMillimeters converts grid coordinates to the millimeter convention of point clouds.
	metersToMillimeters = 1000.0
	fullConfidence      = 100
)

// CreateTimestampFilename creates an absolute filename with a prefix and timestamp written into the
// filename.
func CreateTimestampFilename(dataDirectory, prefix, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, prefix+"_data_"+timeStamp.UTC().Format(SlamTimeFormat)+fileType)
}

// SnapshotToPointCloud returns a point at the center of every occupied cell of the snapshot. The
// occupancy probability is encoded as the confidence in the blue channel, on a scale from 0-100.
func SnapshotToPointCloud(snapshot messages.OccupancyGridSnapshot) (pc.PointCloud, error) {
	occupied := 0
	for _, v := range snapshot.Cells {
		if v > 0 {
			occupied++
		}
	}

	cloud := pc.NewWithPrealloc(occupied)
	for row := 0; row < snapshot.Height; row++ {
		for column := 0; column < snapshot.Width; column++ {
			if !snapshot.Occupied(column, row) {
				continue
			}
			center := snapshot.CellCenter(column, row)
			confidence := uint8(math.Round(snapshot.Probability(column, row) * fullConfidence))
			point := r3.Vector{X: center.X * metersToMillimeters, Y: center.Y * metersToMillimeters}
			if err := cloud.Set(point, pc.NewColoredData(color.NRGBA{B: confidence, R: fullConfidence})); err != nil {
				return nil, err
			}
		}
	}
	return cloud, nil
}

// SnapshotToPCD encodes the occupied cells of the snapshot as a binary PCD.
func SnapshotToPCD(snapshot messages.OccupancyGridSnapshot) ([]byte, error) {
	cloud, err := SnapshotToPointCloud(snapshot)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(cloud, buf, pc.PCDBinary); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePCDToFile encodes the pointcloud and then saves it to the passed filename.
func WritePCDToFile(pointcloud pc.PointCloud, filename string) error {
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(pointcloud, buf, pc.PCDBinary); err != nil {
		return err
	}
	return WriteBytesToFile(buf.Bytes(), filename)
}

// WriteMapToFile encodes the occupied cells of the snapshot and saves them to the passed filename.
func WriteMapToFile(snapshot messages.OccupancyGridSnapshot, filename string) error {
	b, err := SnapshotToPCD(snapshot)
	if err != nil {
		return err
	}
	return WriteBytesToFile(b, filename)
}

// WriteJSONToFile encodes the poses of a trajectory and then saves them to the passed filename.
func WriteJSONToFile(poses []messages.Pose2D, filename string) error {
	b, err := json.Marshal(poses)
	if err != nil {
		return err
	}
	return WriteBytesToFile(b, filename)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
