// Package emitter serializes frame records for downstream consumers.
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ayusman/fidtrack/internal/marker"
	"github.com/ayusman/fidtrack/internal/pose"
)

// ErrSinkClosed is returned when emitting to a closed sink.
var ErrSinkClosed = errors.New("sink is closed")

// Sink consumes frame records in frame order.
type Sink interface {
	Emit(rec marker.FrameRecord) error
	Close() error
}

// Record is the wire form of a frame record.
type Record struct {
	FrameID    int               `json:"frame_id"`
	Detections []DetectionRecord `json:"detections"`
}

// DetectionRecord is the wire form of one marker. The top-level pose
// fields repeat the best solution.
type DetectionRecord struct {
	MarkerID    int          `json:"marker_id"`
	Corners     []float64    `json:"corners"`
	Rotation    [3]float64   `json:"rotation"`
	Translation [3]float64   `json:"translation"`
	Error       float64      `json:"error"`
	Poses       []PoseRecord `json:"poses"`
}

// PoseRecord is one pose solution.
type PoseRecord struct {
	Rotation       [3]float64 `json:"rotation"`
	RotationMatrix []float64  `json:"rotation_matrix"`
	Translation    [3]float64 `json:"translation"`
	Error          float64    `json:"error"`
}

// NewRecord converts a frame record to its wire form.
func NewRecord(rec marker.FrameRecord) Record {
	out := Record{
		FrameID:    rec.FrameID,
		Detections: make([]DetectionRecord, 0, len(rec.Detections)),
	}
	for _, d := range rec.Detections {
		best := d.Best()
		dr := DetectionRecord{
			MarkerID:    d.MarkerID,
			Corners:     d.Corners.Flat(),
			Rotation:    best.Rotation,
			Translation: best.Translation,
			Error:       best.Error,
			Poses:       make([]PoseRecord, 0, len(d.Poses)),
		}
		for _, p := range d.Poses {
			dr.Poses = append(dr.Poses, PoseRecord{
				Rotation:       p.Rotation,
				RotationMatrix: pose.RotationMatrix(p.Rotation).Flat(),
				Translation:    p.Translation,
				Error:          p.Error,
			})
		}
		out.Detections = append(out.Detections, dr)
	}
	return out
}

type flusher interface {
	Flush() error
}

// JSONL writes one JSON object per line.
type JSONL struct {
	mu         sync.Mutex
	w          io.Writer
	enc        *json.Encoder
	printEmpty bool
	closed     bool
	written    int
}

// NewJSONL creates a line-delimited JSON sink. Frames without detections
// are skipped unless printEmpty is set. If w has a Flush method it is
// called after every line.
func NewJSONL(w io.Writer, printEmpty bool) *JSONL {
	return &JSONL{
		w:          w,
		enc:        json.NewEncoder(w),
		printEmpty: printEmpty,
	}
}

// Emit writes rec as a single line.
func (s *JSONL) Emit(rec marker.FrameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if rec.Empty() && !s.printEmpty {
		return nil
	}

	if err := s.enc.Encode(NewRecord(rec)); err != nil {
		return fmt.Errorf("write frame %d: %w", rec.FrameID, err)
	}
	if f, ok := s.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame %d: %w", rec.FrameID, err)
		}
	}
	s.written++

	return nil
}

// Written returns how many lines have been written.
func (s *JSONL) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close marks the sink closed. The underlying writer is left open.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type tee []Sink

// Tee returns a sink that emits every record to each sink in order. Emit
// stops at the first failing sink.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) Emit(rec marker.FrameRecord) error {
	for _, s := range t {
		if err := s.Emit(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every emitted record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []marker.FrameRecord
	closed  bool
	err     error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Emit calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Emit(rec marker.FrameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrSinkClosed
	}
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Records returns a copy of the records emitted so far.
func (r *Recorder) Records() []marker.FrameRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]marker.FrameRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
