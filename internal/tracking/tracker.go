// Package tracking holds the per-face trackers that keep boxes locked to
// moving faces between recognition passes, and the shared state through which
// the detection worker hands them to the render loop.
package tracking

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// DefaultPreference is the order trackers are tried in at startup.
var DefaultPreference = []string{"kcf", "csrt", "mil"}

// Tracker follows one object across frames without re-running detection.
type Tracker interface {
	Init(frame *types.Frame, box image.Rectangle) error
	// Update advances the tracker. ok is false once the target is lost.
	Update(frame *types.Frame) (box image.Rectangle, ok bool)
	Close() error
}

// Factory creates a fresh, uninitialised tracker.
type Factory func() (Tracker, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a tracker implementation available under name.
// Implementations call it from init, so availability follows the build.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("tracking: Register factory is nil")
	}
	registry[name] = f
}

// Available lists registered tracker names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the first registered tracker in preference order
// (DefaultPreference when none is given). A candidate is accepted only if it
// can actually be constructed. It is meant to run once at startup.
func Resolve(preferred ...string) (Factory, string, error) {
	if len(preferred) == 0 {
		preferred = DefaultPreference
	}
	registryMu.RLock()
	defer registryMu.RUnlock()

	var lastErr error
	for _, name := range preferred {
		f, ok := registry[name]
		if !ok {
			continue
		}
		probe, err := f()
		if err != nil {
			lastErr = err
			continue
		}
		probe.Close()
		return f, name, nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", types.ErrNoTrackerAvailable, lastErr)
	}
	return nil, "", types.ErrNoTrackerAvailable
}
