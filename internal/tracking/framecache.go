package tracking

import (
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// FrameCache keeps the converted form of the most recent frame so that every
// tracker advancing on that frame shares one conversion. Frames are compared
// by pointer; a frame must not be mutated after it is handed out.
type FrameCache[T any] struct {
	Convert func(*types.Frame) (T, error)
	Release func(T) // optional

	mu    sync.Mutex
	frame *types.Frame
	val   T
	held  bool
}

// Do runs fn with the converted frame, converting only when frame differs
// from the previous call. fn must not retain its argument.
func (c *FrameCache[T]) Do(frame *types.Frame, fn func(T)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held || c.frame != frame {
		v, err := c.Convert(frame)
		if err != nil {
			return err
		}
		c.dropLocked()
		c.frame, c.val, c.held = frame, v, true
	}
	fn(c.val)
	return nil
}

// Reset releases the cached value.
func (c *FrameCache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

func (c *FrameCache[T]) dropLocked() {
	if c.held && c.Release != nil {
		c.Release(c.val)
	}
	var zero T
	c.frame, c.val, c.held = nil, zero, false
}
