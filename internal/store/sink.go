package store

import (
	"fmt"
	"sync"

	"github.com/ayusman/fidtrack/internal/emitter"
	"github.com/ayusman/fidtrack/internal/marker"
)

var _ emitter.Sink = (*Sink)(nil)

// Sink records every frame of a run in the store. Empty frames are stored
// too, so the frames table lists everything that was processed.
type Sink struct {
	store  *Store
	runID  string
	mu     sync.Mutex
	frames int
	closed bool
}

// NewSink creates a sink writing to an existing run.
func NewSink(s *Store, runID string) *Sink {
	return &Sink{store: s, runID: runID}
}

// Emit stores rec in one transaction.
func (s *Sink) Emit(rec marker.FrameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return emitter.ErrSinkClosed
	}
	if err := s.store.Detections().SaveFrame(s.runID, rec); err != nil {
		return fmt.Errorf("store frame %d: %w", rec.FrameID, err)
	}
	s.frames++
	return nil
}

// Close marks the run finished. The store itself stays open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.store.Runs().Finish(s.runID, s.frames)
}
