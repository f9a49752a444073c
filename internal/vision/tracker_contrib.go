//go:build !nocontrib

package vision

import (
	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"gocv.io/x/gocv/contrib"
)

// KCF and CSRT live in opencv_contrib. Build with -tags nocontrib against a
// core-only OpenCV to fall back to MIL.
func init() {
	tracking.Register("kcf", func() (tracking.Tracker, error) {
		return &cvTracker{t: contrib.NewTrackerKCF()}, nil
	})
	tracking.Register("csrt", func() (tracking.Tracker, error) {
		return &cvTracker{t: contrib.NewTrackerCSRT()}, nil
	})
}
