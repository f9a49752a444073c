package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/events"
	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"github.com/andresmejia3/gatekeeper/internal/types"
)

// --- fakes ---

type fakeFrames struct {
	frame   *types.Frame
	stopped int
}

func (f *fakeFrames) Read() (*types.Frame, bool) {
	if f.frame == nil {
		return nil, false
	}
	return f.frame.Clone(), true
}
func (f *fakeFrames) Stop() error { f.stopped++; return nil }

type shown struct {
	frame    *types.Frame
	overlays []types.Overlay
}

type fakeDisplay struct {
	keys   []rune
	shown  []shown
	closed bool
}

func (d *fakeDisplay) Show(frame *types.Frame, overlays []types.Overlay) error {
	d.shown = append(d.shown, shown{frame: frame, overlays: overlays})
	return nil
}

func (d *fakeDisplay) PollKey(time.Duration) int {
	if len(d.keys) == 0 {
		return -1
	}
	k := d.keys[0]
	d.keys = d.keys[1:]
	return int(k)
}
func (d *fakeDisplay) Close() error { d.closed = true; return nil }

type fakePrompter struct {
	answer string
	asked  int
}

func (p *fakePrompter) Prompt(context.Context, string) (string, error) {
	p.asked++
	return p.answer, nil
}

type fakeEngine struct {
	dets []types.Detection
	err  error
}

func (e *fakeEngine) Recognize(image.Image) ([]types.Detection, error) { return e.dets, e.err }

type memStore struct {
	ids   []identity.Identity
	saves int
	err   error
}

func (s *memStore) Load(context.Context) ([]identity.Identity, error) {
	return identity.Clone(s.ids), nil
}

func (s *memStore) Save(_ context.Context, ids []identity.Identity) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.ids = identity.Clone(ids)
	return nil
}

type fakeDetector struct {
	ids     []identity.Identity
	started int
	stopped int
}

func (d *fakeDetector) Start(context.Context) error { d.started++; return nil }
func (d *fakeDetector) Stop()                       { d.stopped++ }

type detectorLog struct {
	built []*fakeDetector
}

func (l *detectorLog) factory(ids []identity.Identity) Detector {
	d := &fakeDetector{ids: ids}
	l.built = append(l.built, d)
	return d
}

type countingTracker struct {
	box     image.Rectangle
	lost    bool
	updates int
	closed  bool
}

func (t *countingTracker) Init(*types.Frame, image.Rectangle) error { return nil }
func (t *countingTracker) Update(*types.Frame) (image.Rectangle, bool) {
	t.updates++
	return t.box, !t.lost
}
func (t *countingTracker) Close() error { t.closed = true; return nil }

type recordingPublisher struct {
	evs []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.evs = append(p.evs, ev)
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

func solidFrame(v byte) *types.Frame {
	pix := make([]byte, 40*20*3)
	for i := range pix {
		pix[i] = v
	}
	return &types.Frame{Width: 40, Height: 20, Channels: 3, Pix: pix}
}

type harness struct {
	ctl       *Controller
	frames    *fakeFrames
	display   *fakeDisplay
	prompter  *fakePrompter
	engine    *fakeEngine
	store     *memStore
	state     *tracking.State
	detectors *detectorLog
	events    *recordingPublisher
	out       *bytes.Buffer
}

func newHarness(t *testing.T, ids ...identity.Identity) *harness {
	t.Helper()
	h := &harness{
		frames:    &fakeFrames{frame: solidFrame(128)},
		display:   &fakeDisplay{},
		prompter:  &fakePrompter{},
		engine:    &fakeEngine{},
		store:     &memStore{ids: ids},
		state:     &tracking.State{},
		detectors: &detectorLog{},
		events:    &recordingPublisher{},
		out:       &bytes.Buffer{},
	}
	h.ctl = New(Deps{
		Frames:      h.frames,
		Display:     h.display,
		Prompter:    h.prompter,
		Engine:      h.engine,
		Store:       h.store,
		State:       h.state,
		NewDetector: h.detectors.factory,
		Identities:  ids,
		Events:      h.events,
		Out:         h.out,
	}, Config{})
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return h
}

func desc(v float32) types.Descriptor {
	var d types.Descriptor
	d[0] = v
	return d
}

// --- render loop ---

func TestDarkFrameSkipsTrackersButQuits(t *testing.T) {
	h := newHarness(t)
	h.frames.frame = solidFrame(2)
	tr := &countingTracker{box: image.Rect(1, 1, 5, 5)}
	h.state.Publish(tracking.Snapshot{Faces: []tracking.TrackedFace{{Tracker: tr, Label: "alice", Decision: types.Granted}}})
	h.display.keys = []rune{'q'}

	if mode := h.ctl.Step(context.Background()); mode != Stopped {
		t.Fatalf("expected Stopped, got %v", mode)
	}
	if tr.updates != 0 {
		t.Errorf("tracker advanced on a near-black frame")
	}
	if len(h.display.shown) != 1 || len(h.display.shown[0].overlays) != 0 {
		t.Errorf("dark frame not displayed as-is: %+v", h.display.shown)
	}
}

func TestInvalidFrameStillDisplayed(t *testing.T) {
	h := newHarness(t)
	h.frames.frame = &types.Frame{Width: 2, Height: 2, Channels: 1, Pix: make([]byte, 4)}
	if mode := h.ctl.Step(context.Background()); mode != Running {
		t.Fatalf("expected Running, got %v", mode)
	}
	if len(h.display.shown) != 1 {
		t.Error("invalid frame not displayed")
	}
}

func TestOverlaysAndLostTrackerDropped(t *testing.T) {
	h := newHarness(t)
	alice := &countingTracker{box: image.Rect(1, 1, 5, 5)}
	lost := &countingTracker{box: image.Rect(6, 6, 9, 9), lost: true}
	stranger := &countingTracker{box: image.Rect(10, 1, 15, 5)}
	h.state.Publish(tracking.Snapshot{Faces: []tracking.TrackedFace{
		{Tracker: alice, Label: "alice", Decision: types.Granted},
		{Tracker: lost, Label: "bob", Decision: types.Granted},
		{Tracker: stranger, Label: "Unknown", Decision: types.Denied},
	}})

	h.ctl.Step(context.Background())

	ov := h.display.shown[0].overlays
	if len(ov) != 2 {
		t.Fatalf("expected 2 overlays after dropping the lost face, got %d", len(ov))
	}
	if ov[0].Text != "alice: Access Granted" || ov[0].Box != alice.box || ov[0].Color != colorGranted {
		t.Errorf("granted overlay wrong: %+v", ov[0])
	}
	if ov[1].Text != "Unknown: Access Denied" || ov[1].Box != stranger.box || ov[1].Color != colorDenied {
		t.Errorf("denied overlay wrong: %+v", ov[1])
	}
	if lost.closed {
		t.Error("render loop must not release trackers it does not own")
	}
}

func TestMissingFrameStillPollsKeys(t *testing.T) {
	h := newHarness(t)
	h.frames.frame = nil
	h.display.keys = []rune{'q'}
	if mode := h.ctl.Step(context.Background()); mode != Stopped {
		t.Errorf("expected Stopped, got %v", mode)
	}
	if len(h.display.shown) != 0 {
		t.Error("nothing should be displayed without a frame")
	}
}

func TestCancelledContextStops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if mode := h.ctl.Step(ctx); mode != Stopped {
		t.Errorf("expected Stopped, got %v", mode)
	}
}

func TestRunTearsDown(t *testing.T) {
	frames := &fakeFrames{frame: solidFrame(128)}
	display := &fakeDisplay{keys: []rune{'x', 'q'}}
	detectors := &detectorLog{}
	tr := &countingTracker{}
	state := &tracking.State{}
	state.Publish(tracking.Snapshot{Faces: []tracking.TrackedFace{{Tracker: tr}}})

	ctl := New(Deps{
		Frames: frames, Display: display, Engine: &fakeEngine{}, Store: &memStore{},
		State: state, NewDetector: detectors.factory, Out: io.Discard,
	}, Config{})
	if err := ctl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(detectors.built) != 1 || detectors.built[0].started != 1 || detectors.built[0].stopped != 1 {
		t.Errorf("detector lifecycle wrong: %+v", detectors.built)
	}
	if frames.stopped != 1 || !display.closed || !tr.closed {
		t.Error("teardown incomplete")
	}
	ctl.Close()
	if frames.stopped != 1 {
		t.Error("second Close repeated teardown")
	}
}

// --- enrollment ---

func TestEnrollEmptyNameCancels(t *testing.T) {
	h := newHarness(t, identity.Identity{Name: "alice", Descriptor: desc(1)})
	h.engine.dets = []types.Detection{{Box: image.Rect(1, 1, 3, 3), Descriptor: desc(2)}}
	h.prompter.answer = "   "
	h.display.keys = []rune{'t'}

	if mode := h.ctl.Step(context.Background()); mode != Running {
		t.Fatalf("expected Running after enrollment, got %v", mode)
	}
	if got := len(h.ctl.Identities()); got != 1 {
		t.Errorf("identity count changed to %d", got)
	}
	if h.store.saves != 0 {
		t.Error("store written on cancelled enrollment")
	}
	if !strings.Contains(h.out.String(), "Registration cancelled") {
		t.Errorf("operator not told: %q", h.out.String())
	}
	if len(h.detectors.built) != 2 || h.detectors.built[0].stopped != 1 || h.detectors.built[1].started != 1 {
		t.Error("detection not paused and resumed")
	}
}

func TestEnrollKeyIgnoredOnUnusableFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame *types.Frame
	}{
		{"truncated", &types.Frame{Width: 40, Height: 20, Channels: 3, Pix: make([]byte, 10)}},
		{"near black", solidFrame(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.dets = []types.Detection{{Box: image.Rect(1, 1, 3, 3), Descriptor: desc(2)}}
			h.prompter.answer = "mallory"
			h.frames.frame = tt.frame
			h.display.keys = []rune{'t'}

			if mode := h.ctl.Step(context.Background()); mode != Running {
				t.Fatalf("expected Running, got %v", mode)
			}
			if h.prompter.asked != 0 || h.store.saves != 0 || len(h.ctl.Identities()) != 0 {
				t.Errorf("enrolled from an unusable frame: asked=%d saves=%d", h.prompter.asked, h.store.saves)
			}
			if len(h.detectors.built) != 1 || h.detectors.built[0].stopped != 0 {
				t.Error("detection interrupted for an ignored key")
			}
			if !strings.Contains(h.out.String(), "Frame not received") {
				t.Errorf("operator not told: %q", h.out.String())
			}
		})
	}
}

func TestEnrollRejectsMalformedFrame(t *testing.T) {
	h := newHarness(t)
	bad := &types.Frame{Width: 40, Height: 20, Channels: 3, Pix: make([]byte, 10)}
	if err := h.ctl.Enroll(context.Background(), bad); !errors.Is(err, types.ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
	if h.ctl.Mode() != Running || len(h.detectors.built) != 1 {
		t.Error("detection disturbed by a rejected frame")
	}
}

func TestEnrollRegistersAndRestartsWithNewList(t *testing.T) {
	h := newHarness(t, identity.Identity{Name: "alice", Descriptor: desc(1)})
	h.engine.dets = []types.Detection{
		{Box: image.Rect(1, 1, 3, 3), Descriptor: desc(7)},
		{Box: image.Rect(5, 1, 7, 3), Descriptor: desc(8)},
	}
	h.prompter.answer = "bob"
	stale := &countingTracker{}
	h.state.Publish(tracking.Snapshot{Faces: []tracking.TrackedFace{{Tracker: stale}}, UpdatedAt: time.Unix(1, 0)})

	if err := h.ctl.Enroll(context.Background(), solidFrame(128)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	ids := h.ctl.Identities()
	if len(ids) != 2 || ids[1].Name != "bob" || ids[1].Descriptor != desc(7) {
		t.Fatalf("unexpected identities: %+v", ids)
	}
	if h.store.saves != 1 || len(h.store.ids) != 2 {
		t.Error("enrollment not persisted")
	}

	first, second := h.detectors.built[0], h.detectors.built[1]
	if first.stopped != 1 {
		t.Error("old detector not stopped")
	}
	if len(first.ids) != 1 || len(second.ids) != 2 {
		t.Errorf("detectors seeded with %d then %d identities", len(first.ids), len(second.ids))
	}
	if snap := h.state.Read(); len(snap.Faces) != 0 {
		t.Error("stale tracks survived enrollment")
	}
	if !stale.closed {
		t.Error("stale tracker not released")
	}
	if len(h.events.evs) != 1 || h.events.evs[0].Kind != events.KindEnrollment || h.events.evs[0].Name != "bob" {
		t.Errorf("unexpected events: %+v", h.events.evs)
	}
	if h.ctl.Mode() != Running {
		t.Errorf("mode = %v", h.ctl.Mode())
	}
}

func TestEnrollNoFace(t *testing.T) {
	h := newHarness(t)
	err := h.ctl.Enroll(context.Background(), solidFrame(128))
	if !errors.Is(err, types.ErrNoFaceFound) {
		t.Fatalf("expected ErrNoFaceFound, got %v", err)
	}
	if h.prompter.asked != 0 {
		t.Error("operator prompted without a face")
	}
	if len(h.detectors.built) != 2 {
		t.Error("detection not resumed after a failed enrollment")
	}
}

func TestEnrollEncodingError(t *testing.T) {
	h := newHarness(t)
	h.engine.err = errors.New("model missing")
	var encErr *types.EncodingError
	if err := h.ctl.Enroll(context.Background(), solidFrame(128)); !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if len(h.detectors.built) != 2 || h.detectors.built[1].started != 1 {
		t.Error("detection not resumed after an encoding error")
	}
}

func TestEnrollSaveFailureLeavesListUnchanged(t *testing.T) {
	h := newHarness(t, identity.Identity{Name: "alice", Descriptor: desc(1)})
	h.engine.dets = []types.Detection{{Box: image.Rect(1, 1, 3, 3), Descriptor: desc(7)}}
	h.prompter.answer = "bob"
	h.store.err = errors.New("disk full")

	if err := h.ctl.Enroll(context.Background(), solidFrame(128)); err == nil {
		t.Fatal("expected save error")
	}
	if got := len(h.ctl.Identities()); got != 1 {
		t.Errorf("identity list changed to %d entries", got)
	}
	if got := len(h.detectors.built[1].ids); got != 1 {
		t.Errorf("restarted detector saw %d identities", got)
	}
}

// --- prompter ---

func TestLinePrompter(t *testing.T) {
	var out bytes.Buffer
	p := NewLinePrompter(strings.NewReader("  bob  \nlast"), &out)

	got, err := p.Prompt(context.Background(), "Name? ")
	if err != nil || got != "bob" {
		t.Fatalf("got (%q, %v)", got, err)
	}
	if out.String() != "Name? " {
		t.Errorf("question not written: %q", out.String())
	}

	got, err = p.Prompt(context.Background(), "")
	if err != nil || got != "last" {
		t.Errorf("unterminated line: got (%q, %v)", got, err)
	}

	if _, err := p.Prompt(context.Background(), ""); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestLinePrompterCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewLinePrompter(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Prompt(ctx, "?"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLinePrompterUsableAfterCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewLinePrompter(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Prompt(ctx, "?"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	go func() {
		_, _ = io.WriteString(w, "carol\n")
		_, _ = io.WriteString(w, "dave\n")
	}()
	for _, want := range []string{"carol", "dave"} {
		got, err := p.Prompt(context.Background(), "?")
		if err != nil || got != want {
			t.Fatalf("got (%q, %v), want %q", got, err, want)
		}
	}
}
