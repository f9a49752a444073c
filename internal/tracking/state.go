package tracking

import (
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// TrackedFace is one recognised face and the tracker following it.
// Tracker, Label and Decision travel together; only Box changes between
// detection passes.
type TrackedFace struct {
	Tracker  Tracker
	Label    string
	Decision types.Decision
	Box      image.Rectangle
}

// Snapshot is the unit of exchange between the detection worker and the
// render loop.
type Snapshot struct {
	Faces     []TrackedFace
	UpdatedAt time.Time
}

// State is the single critical section shared by the detection worker
// (Publish) and the render loop (Read).
//
// Trackers replaced by Publish are not closed immediately: the reader may
// still be advancing them. They are released on the reader's next Read.
type State struct {
	mu      sync.Mutex
	current Snapshot
	retired []Tracker
}

// Publish atomically replaces the current snapshot.
func (s *State) Publish(snap Snapshot) {
	faces := make([]TrackedFace, len(snap.Faces))
	copy(faces, snap.Faces)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.retire(snap.Faces)
	s.current = Snapshot{Faces: faces, UpdatedAt: snap.UpdatedAt}
}

// retire queues every current tracker that the incoming set does not reuse.
func (s *State) retire(incoming []TrackedFace) {
	keep := make(map[Tracker]bool, len(incoming))
	for _, f := range incoming {
		if f.Tracker != nil {
			keep[f.Tracker] = true
		}
	}
	for _, f := range s.current.Faces {
		if f.Tracker != nil && !keep[f.Tracker] {
			s.retired = append(s.retired, f.Tracker)
		}
	}
}

// Read returns the current snapshot. The face list is a copy the caller may
// filter freely. Trackers retired since the previous Read are closed first.
func (s *State) Read() Snapshot {
	s.mu.Lock()
	retired := s.retired
	s.retired = nil
	faces := make([]TrackedFace, len(s.current.Faces))
	copy(faces, s.current.Faces)
	snap := Snapshot{Faces: faces, UpdatedAt: s.current.UpdatedAt}
	s.mu.Unlock()

	for _, t := range retired {
		t.Close()
	}
	return snap
}

// UpdatedAt reports when the current snapshot was published.
func (s *State) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.UpdatedAt
}

// Reset drops all faces. Only call it while no worker is running.
func (s *State) Reset() {
	s.Publish(Snapshot{UpdatedAt: time.Now()})
}

// Close releases every tracker still held. Call it after both sides stopped.
func (s *State) Close() {
	s.mu.Lock()
	retired := s.retired
	for _, f := range s.current.Faces {
		if f.Tracker != nil {
			retired = append(retired, f.Tracker)
		}
	}
	s.retired = nil
	s.current = Snapshot{}
	s.mu.Unlock()

	for _, t := range retired {
		t.Close()
	}
}
