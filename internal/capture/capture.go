// Package capture keeps the newest camera frame available to any number of
// readers while a background goroutine pulls from the device.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/rs/zerolog/log"
)

// DefaultInterval bounds CPU usage of the capture loop.
const DefaultInterval = 10 * time.Millisecond

// ErrAlreadyStarted is returned by Start on a running source.
var ErrAlreadyStarted = errors.New("capture already started")

// Camera is a live frame device.
type Camera interface {
	Read() (*types.Frame, error)
	Close() error
}

// Source continuously captures frames from a Camera.
type Source struct {
	cam      Camera
	interval time.Duration

	mu    sync.Mutex
	frame *types.Frame
	ok    bool

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewSource wraps cam. A non-positive interval uses DefaultInterval.
func NewSource(cam Camera, interval time.Duration) *Source {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Source{cam: cam, interval: interval}
}

// Start begins background capture. The loop exits when ctx is cancelled or
// Stop is called.
func (s *Source) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.done != nil || s.stopped {
		return ErrAlreadyStarted
	}

	// Prime with one frame so readers have something before the first tick.
	s.capture()

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

func (s *Source) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.capture()
	}
}

func (s *Source) capture() {
	frame, err := s.cam.Read()
	if err == nil && frame == nil {
		err = types.ErrCapture
	}

	s.mu.Lock()
	s.ok = err == nil
	if err == nil {
		s.frame = frame
	}
	s.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("component", "capture").Msg("frame capture failed")
	}
}

// Read returns a private copy of the newest frame, or (nil, false) if the
// last capture failed or nothing was captured yet.
func (s *Source) Read() (*types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok || s.frame == nil {
		return nil, false
	}
	return s.frame.Clone(), true
}

// Stop halts capture, waits for the loop to exit and releases the camera.
// It is safe to call more than once.
func (s *Source) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.cam.Close()
}
