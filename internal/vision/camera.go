// Package vision adapts OpenCV (gocv) to the pipeline: webcam capture, the
// preview window and the per-face trackers.
package vision

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"gocv.io/x/gocv"
)

// Camera reads BGR frames from a webcam or a video file.
type Camera struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera opens device, either a numeric webcam id ("0") or a path/URL.
func OpenCamera(device string) (*Camera, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if id, convErr := strconv.Atoi(device); convErr == nil {
		vc, err = gocv.VideoCaptureDevice(id)
	} else {
		vc, err = gocv.VideoCaptureFile(device)
	}
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %q: device not available", device)
	}
	return &Camera{vc: vc, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame. The returned frame owns its pixels.
func (c *Camera) Read() (*types.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, types.ErrCapture
	}
	return &types.Frame{
		Width:      c.mat.Cols(),
		Height:     c.mat.Rows(),
		Channels:   c.mat.Channels(),
		Pix:        c.mat.ToBytes(),
		CapturedAt: time.Now(),
	}, nil
}

func (c *Camera) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

// toMat copies frame into a Mat owned by the caller.
func toMat(frame *types.Frame) (gocv.Mat, error) {
	mt := gocv.MatTypeCV8UC3
	if frame.Channels == 1 {
		mt = gocv.MatTypeCV8UC1
	}
	view, err := gocv.NewMatFromBytes(frame.Height, frame.Width, mt, frame.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("frame to mat: %w", err)
	}
	defer view.Close()
	mat := view.Clone()
	runtime.KeepAlive(frame.Pix)
	return mat, nil
}
