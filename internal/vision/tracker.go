package vision

import (
	"errors"
	"image"

	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"gocv.io/x/gocv"
)

var errTrackerInit = errors.New("tracker rejected the initial box")

// updateMats converts each rendered frame once for all trackers.
var updateMats = tracking.FrameCache[gocv.Mat]{
	Convert: toMat,
	Release: func(m gocv.Mat) { m.Close() },
}

func init() {
	tracking.Register("mil", func() (tracking.Tracker, error) {
		return &cvTracker{t: gocv.NewTrackerMIL()}, nil
	})
}

// cvTracker adapts a gocv tracker to frames.
type cvTracker struct {
	t gocv.Tracker
}

func (c *cvTracker) Init(frame *types.Frame, box image.Rectangle) error {
	mat, err := toMat(frame)
	if err != nil {
		return err
	}
	defer mat.Close()
	if !c.t.Init(mat, box) {
		return errTrackerInit
	}
	return nil
}

func (c *cvTracker) Update(frame *types.Frame) (box image.Rectangle, ok bool) {
	err := updateMats.Do(frame, func(mat gocv.Mat) {
		box, ok = c.t.Update(mat)
	})
	if err != nil {
		return image.Rectangle{}, false
	}
	return box, ok
}

func (c *cvTracker) Close() error {
	return c.t.Close()
}
