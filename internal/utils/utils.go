package utils

import (
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"golang.org/x/image/draw"
)

// --- 1. CLI Error Reporting ---

// errOut is where error boxes are printed. Tests swap it.
var errOut io.Writer = os.Stderr

// exit terminates the process. Tests swap it.
var exit = os.Exit

var (
	cleanupMu sync.Mutex
	cleanups  []func()
)

// ShowError prints the formatted error box without exiting.
func ShowError(context string, err error) {
	fmt.Fprintf(errOut, "\n---------------------------------------------------------\n")
	fmt.Fprintf(errOut, "🚨 GATEKEEPER ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(errOut, "DETAILS: %v\n", err)
	}
	fmt.Fprintf(errOut, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for startup failures.
// It prints the error box and terminates with status 1.
func Die(context string, err error) {
	ShowError(context, err)
	Exit(1)
}

// AtExit registers fn to run when the process leaves through Exit or Die.
func AtExit(fn func()) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanups = append(cleanups, fn)
}

// Exit runs the AtExit functions, newest first, then terminates with code.
func Exit(code int) {
	cleanupMu.Lock()
	fns := cleanups
	cleanups = nil
	cleanupMu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	exit(code)
}

// --- 2. Image Helpers (shared by detection & enrollment) ---

// Downsample converts a BGR frame to RGB and scales it by factor (0 < factor <= 1).
// Recognition runs on the result so its cost is bounded regardless of camera resolution.
func Downsample(f *types.Frame, factor float64) *image.RGBA {
	w := int(math.Round(float64(f.Width) * factor))
	h := int(math.Round(float64(f.Height) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if factor == 1 {
		draw.Draw(dst, dst.Bounds(), f.Image(), image.Point{}, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image(), f.Bounds(), draw.Src, nil)
	return dst
}

// ScaleRect maps a box found on a downsampled image back to full resolution.
func ScaleRect(r image.Rectangle, factor float64) image.Rectangle {
	if factor <= 0 {
		return r
	}
	inv := 1 / factor
	scale := func(v int) int { return int(math.Round(float64(v) * inv)) }
	return image.Rect(scale(r.Min.X), scale(r.Min.Y), scale(r.Max.X), scale(r.Max.Y))
}
