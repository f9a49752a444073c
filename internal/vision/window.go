package vision

import (
	"image"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"gocv.io/x/gocv"
)

// Window shows annotated frames and reads single key presses.
type Window struct {
	w *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{w: gocv.NewWindow(title)}
}

// Show draws overlays on a private copy of frame and displays it.
func (w *Window) Show(frame *types.Frame, overlays []types.Overlay) error {
	mat, err := toMat(frame)
	if err != nil {
		return err
	}
	defer mat.Close()

	for _, o := range overlays {
		gocv.Rectangle(&mat, o.Box, o.Color, 2)
		gocv.PutText(&mat, o.Text, image.Pt(o.Box.Min.X, o.Box.Min.Y-10), gocv.FontHersheySimplex, 0.5, o.Color, 2)
	}
	w.w.IMShow(mat)
	return nil
}

// PollKey waits up to wait for a key. It returns -1 when none was pressed.
func (w *Window) PollKey(wait time.Duration) int {
	ms := int(wait / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	key := w.w.WaitKey(ms)
	if key < 0 {
		return -1
	}
	return key & 0xFF
}

func (w *Window) Close() error {
	updateMats.Reset()
	return w.w.Close()
}
