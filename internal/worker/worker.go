// Package worker runs the periodic recognition pass that seeds per-face
// trackers for the render loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/events"
	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultRetryDelay   = 100 * time.Millisecond
	DefaultScale        = 0.25
	DefaultUnknownLabel = "Unknown"
)

// ErrAlreadyStarted is returned by Start on a worker that has run before.
// A stopped worker is not restarted; build a new one.
var ErrAlreadyStarted = errors.New("detection worker already started")

// FrameReader hands out private copies of the newest frame.
type FrameReader interface {
	Read() (*types.Frame, bool)
}

// Engine finds faces in an RGB image and describes each one.
// Errors are reported as *types.EncodingError.
type Engine interface {
	Recognize(img image.Image) ([]types.Detection, error)
}

// Config tunes the detection cadence. Zero fields take the defaults.
type Config struct {
	Interval     time.Duration
	RetryDelay   time.Duration
	Scale        float64
	UnknownLabel string
	Events       events.Publisher
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Scale <= 0 || c.Scale > 1 {
		c.Scale = DefaultScale
	}
	if c.UnknownLabel == "" {
		c.UnknownLabel = DefaultUnknownLabel
	}
	if c.Events == nil {
		c.Events = events.Discard{}
	}
	return c
}

// Worker is the DetectionWorker. Its identity list is fixed at construction.
type Worker struct {
	frames  FrameReader
	engine  Engine
	cmp     identity.Comparator
	factory tracking.Factory
	ids     []identity.Identity
	state   *tracking.State
	cfg     Config
	logger  zerolog.Logger

	cycles uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New builds a worker. ids is copied; later changes to the caller's slice
// are not seen.
func New(frames FrameReader, engine Engine, cmp identity.Comparator, factory tracking.Factory,
	ids []identity.Identity, state *tracking.State, cfg Config) *Worker {
	return &Worker{
		frames:  frames,
		engine:  engine,
		cmp:     cmp,
		factory: factory,
		ids:     identity.Clone(ids),
		state:   state,
		cfg:     cfg.withDefaults(),
		logger:  log.With().Str("component", "detection").Logger(),
	}
}

// Identities returns the snapshot the worker matches against.
func (w *Worker) Identities() []identity.Identity {
	return identity.Clone(w.ids)
}

// Start launches the detection loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)
	w.logger.Info().Int("identities", len(w.ids)).Dur("interval", w.cfg.Interval).Msg("detection started")
	return nil
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		wait := w.cfg.Interval
		err := w.Cycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrCapture):
			wait = w.cfg.RetryDelay
		case ctx.Err() != nil:
			return
		default:
			w.logger.Warn().Err(err).Uint64("cycle", w.cycles).Msg("detection cycle skipped")
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop cancels the loop and waits until it has exited. After Stop returns the
// worker never touches the shared state again. Safe to call more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.logger.Info().Uint64("cycles", w.cycles).Msg("detection stopped")
}

// Cycle runs one detection pass and publishes the result. On any error the
// previously published snapshot is left in place.
func (w *Worker) Cycle(ctx context.Context) error {
	frame, ok := w.frames.Read()
	if !ok || !frame.Valid() {
		return fmt.Errorf("detection: %w", types.ErrCapture)
	}

	small := utils.Downsample(frame, w.cfg.Scale)
	dets, err := w.engine.Recognize(small)
	if err != nil {
		var encErr *types.EncodingError
		if !errors.As(err, &encErr) {
			err = &types.EncodingError{Err: err}
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	faces := make([]tracking.TrackedFace, 0, len(dets))
	for _, d := range dets {
		box := utils.ScaleRect(d.Box, w.cfg.Scale).Intersect(frame.Bounds())
		if box.Empty() {
			continue
		}

		label, decision := w.cfg.UnknownLabel, types.Denied
		if id, ok := identity.Match(w.ids, w.cmp, d.Descriptor); ok {
			label, decision = id.Name, types.Granted
		}

		tr, err := w.factory()
		if err != nil {
			closeTrackers(faces)
			return fmt.Errorf("create tracker: %w", err)
		}
		if err := tr.Init(frame, box); err != nil {
			tr.Close()
			w.logger.Debug().Err(err).Str("label", label).Msg("tracker init failed, face dropped")
			continue
		}
		faces = append(faces, tracking.TrackedFace{Tracker: tr, Label: label, Decision: decision, Box: box})
	}

	if err := ctx.Err(); err != nil {
		closeTrackers(faces)
		return err
	}
	w.state.Publish(tracking.Snapshot{Faces: faces, UpdatedAt: time.Now()})
	w.cycles++
	w.logger.Debug().Int("faces", len(faces)).Uint64("cycle", w.cycles).Msg("snapshot published")

	for _, f := range faces {
		ev := events.New(events.KindAccess, f.Label, f.Decision.String(), f.Box)
		if err := w.cfg.Events.Publish(ctx, ev); err != nil {
			w.logger.Warn().Err(err).Msg("access event not delivered")
		}
	}
	return nil
}

func closeTrackers(faces []tracking.TrackedFace) {
	for _, f := range faces {
		f.Tracker.Close()
	}
}
