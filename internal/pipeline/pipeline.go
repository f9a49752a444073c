// Package pipeline drives the live access gate: it renders tracked faces on
// every frame and pauses detection for interactive enrollment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/events"
	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/andresmejia3/gatekeeper/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mode is the render loop state.
type Mode int

const (
	Running Mode = iota
	PausedForEnrollment
	Stopped
)

func (m Mode) String() string {
	switch m {
	case Running:
		return "running"
	case PausedForEnrollment:
		return "paused-for-enrollment"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

var (
	colorGranted = color.RGBA{G: 255, A: 255}
	colorDenied  = color.RGBA{R: 255, A: 255}
)

// FrameSource is the capture side as seen by the render loop.
type FrameSource interface {
	Read() (*types.Frame, bool)
	Stop() error
}

// Display renders a frame with overlays and polls the keyboard.
// PollKey returns -1 when no key was pressed within wait.
type Display interface {
	Show(frame *types.Frame, overlays []types.Overlay) error
	PollKey(wait time.Duration) int
	Close() error
}

// Prompter asks the operator a question and returns the answer.
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// Detector is a running detection worker.
type Detector interface {
	Start(ctx context.Context) error
	Stop()
}

// DetectorFactory builds a fresh detector bound to a fixed identity list.
type DetectorFactory func(ids []identity.Identity) Detector

// Deps are the collaborators the controller drives.
type Deps struct {
	Frames      FrameSource
	Display     Display
	Prompter    Prompter
	Engine      worker.Engine
	Store       identity.Store
	State       *tracking.State
	NewDetector DetectorFactory
	Identities  []identity.Identity
	Events      events.Publisher
	Out         io.Writer // operator messages; stdout when nil
}

// Config tunes the render loop. Zero fields take the defaults.
type Config struct {
	MinBrightness float64
	KeyWait       time.Duration
	Scale         float64
	QuitKey       rune
	EnrollKey     rune
}

func (c Config) withDefaults() Config {
	if c.MinBrightness <= 0 {
		c.MinBrightness = 5
	}
	if c.KeyWait <= 0 {
		c.KeyWait = time.Millisecond
	}
	if c.Scale <= 0 || c.Scale > 1 {
		c.Scale = worker.DefaultScale
	}
	if c.QuitKey == 0 {
		c.QuitKey = 'q'
	}
	if c.EnrollKey == 0 {
		c.EnrollKey = 't'
	}
	return c
}

// Controller is the render loop state machine.
type Controller struct {
	deps   Deps
	cfg    Config
	out    io.Writer
	logger zerolog.Logger

	mode     Mode
	ids      []identity.Identity
	detector Detector
	runCtx   context.Context

	closeOnce sync.Once
}

// New wires a controller. The identity list is copied.
func New(d Deps, cfg Config) *Controller {
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.State == nil {
		d.State = &tracking.State{}
	}
	out := d.Out
	if out == nil {
		out = os.Stdout
	}
	return &Controller{
		deps:   d,
		cfg:    cfg.withDefaults(),
		out:    out,
		logger: log.With().Str("component", "render").Logger(),
		ids:    identity.Clone(d.Identities),
		runCtx: context.Background(),
	}
}

// Mode reports the current state.
func (c *Controller) Mode() Mode { return c.mode }

// Identities returns the list the next detector will be seeded with.
func (c *Controller) Identities() []identity.Identity {
	return identity.Clone(c.ids)
}

// Start launches the first detector. Run calls it; tests drive Step directly.
func (c *Controller) Start(ctx context.Context) error {
	c.runCtx = ctx
	if len(c.ids) == 0 {
		fmt.Fprintln(c.out, "⚠️  No known faces. Please register users first or use 't' to train.")
	}
	fmt.Fprintf(c.out, "👀 Press '%c' to quit. Press '%c' to train/register your face.\n", c.cfg.QuitKey, c.cfg.EnrollKey)
	return c.startDetector()
}

func (c *Controller) startDetector() error {
	c.detector = c.deps.NewDetector(identity.Clone(c.ids))
	if err := c.detector.Start(c.runCtx); err != nil {
		c.detector = nil
		return fmt.Errorf("start detection: %w", err)
	}
	return nil
}

// Run loops until the quit key is pressed or ctx is cancelled, then tears
// everything down.
func (c *Controller) Run(ctx context.Context) error {
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		return err
	}
	for c.Step(ctx) != Stopped {
	}
	return nil
}

// Step runs one render iteration and returns the resulting mode.
func (c *Controller) Step(ctx context.Context) Mode {
	if ctx.Err() != nil {
		c.mode = Stopped
		return c.mode
	}

	frame, ok := c.deps.Frames.Read()
	usable := ok && frame.Valid() && frame.MeanIntensity() >= c.cfg.MinBrightness
	if ok {
		var overlays []types.Overlay
		if usable {
			overlays = c.advance(frame)
		}
		if err := c.deps.Display.Show(frame, overlays); err != nil {
			c.logger.Debug().Err(err).Msg("display failed")
		}
	}

	// Only quit is honoured on a missing, malformed or black frame.
	switch key := c.deps.Display.PollKey(c.cfg.KeyWait); key {
	case int(c.cfg.QuitKey):
		c.mode = Stopped
	case int(c.cfg.EnrollKey):
		if !usable {
			fmt.Fprintln(c.out, "❌ Frame not received from webcam.")
			break
		}
		c.report(c.Enroll(ctx, frame))
	}
	return c.mode
}

// advance moves every tracker onto frame, dropping faces whose tracker lost
// its target. Trackers are only advanced here; the shared state is never
// written back.
func (c *Controller) advance(frame *types.Frame) []types.Overlay {
	snap := c.deps.State.Read()
	overlays := make([]types.Overlay, 0, len(snap.Faces))
	for _, f := range snap.Faces {
		box, ok := f.Tracker.Update(frame)
		if !ok {
			continue
		}
		overlays = append(overlays, types.Overlay{
			Box:   box,
			Text:  fmt.Sprintf("%s: %s", f.Label, f.Decision),
			Color: decisionColor(f.Decision),
		})
	}
	return overlays
}

func decisionColor(d types.Decision) color.RGBA {
	if d == types.Granted {
		return colorGranted
	}
	return colorDenied
}

// Enroll pauses detection, registers the first face found in frame under a
// name read from the prompter, then resumes detection with the new list.
// Detection is resumed whatever the outcome.
func (c *Controller) Enroll(ctx context.Context, frame *types.Frame) error {
	if !frame.Valid() {
		return types.ErrCapture
	}
	c.mode = PausedForEnrollment
	if c.detector != nil {
		c.detector.Stop()
	}
	logger := log.With().Str("component", "enroll").Logger()
	logger.Info().Msg("detection paused for enrollment")

	defer func() {
		c.deps.State.Reset()
		if err := c.startDetector(); err != nil {
			logger.Error().Err(err).Msg("detection not resumed")
		}
		c.mode = Running
	}()

	small := utils.Downsample(frame, c.cfg.Scale)
	dets, err := c.deps.Engine.Recognize(small)
	if err != nil {
		var encErr *types.EncodingError
		if !errors.As(err, &encErr) {
			err = &types.EncodingError{Err: err}
		}
		return err
	}
	if len(dets) == 0 {
		return types.ErrNoFaceFound
	}

	name, err := c.deps.Prompter.Prompt(ctx, "Enter your name for registration: ")
	if err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ErrEmptyName
	}

	updated := identity.Append(c.ids, identity.Identity{Name: name, Descriptor: dets[0].Descriptor})
	if err := c.deps.Store.Save(ctx, updated); err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	c.ids = updated

	fmt.Fprintf(c.out, "✅ User '%s' registered from webcam.\n", name)
	logger.Info().Str("name", name).Int("identities", len(c.ids)).Msg("identity enrolled")
	box := utils.ScaleRect(dets[0].Box, c.cfg.Scale)
	if err := c.deps.Events.Publish(ctx, events.New(events.KindEnrollment, name, "", box)); err != nil {
		logger.Warn().Err(err).Msg("enrollment event not delivered")
	}
	return nil
}

// report turns enrollment outcomes into operator messages.
func (c *Controller) report(err error) {
	var encErr *types.EncodingError
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNoFaceFound):
		fmt.Fprintln(c.out, "❌ No face detected for training. Please try again.")
	case errors.Is(err, types.ErrEmptyName):
		fmt.Fprintln(c.out, "⚠️  Name cannot be empty. Registration cancelled.")
	case errors.As(err, &encErr):
		fmt.Fprintln(c.out, "❌ Error during face encoding:", encErr.Err)
	default:
		utils.ShowError("Enrollment failed", err)
	}
}

// Close stops detection and capture and releases the display and every
// tracker. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mode = Stopped
		if c.detector != nil {
			c.detector.Stop()
		}
		if err := c.deps.Frames.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("camera release failed")
		}
		if err := c.deps.Display.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("display release failed")
		}
		c.deps.State.Close()
	})
}
