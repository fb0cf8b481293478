package capture

import (
	"errors"
	"fmt"
	"io"

	"gocv.io/x/gocv"
)

// ErrInsufficientFrames is returned when the stream ends before the start
// frame is reached.
var ErrInsufficientFrames = errors.New("stream ended before start frame")

// Frame is a decoded frame and its position in the stream.
type Frame struct {
	Index  int
	Mat    *gocv.Mat
	Width  int
	Height int
}

// Close releases the frame's pixels.
func (f Frame) Close() error {
	if f.Mat == nil {
		return nil
	}
	return f.Mat.Close()
}

// Reader yields frames from a Source within [start, end). An end of 0
// means read until the stream is exhausted.
type Reader struct {
	src     Source
	start   int
	end     int
	next    int
	skipped bool
}

// NewReader creates a Reader over an opened source.
func NewReader(src Source, start, end int) (*Reader, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("frame bounds must not be negative: start=%d end=%d", start, end)
	}
	return &Reader{src: src, start: start, end: end}, nil
}

// Skip discards frames until the start frame is next. It is called
// implicitly by the first Next.
func (r *Reader) Skip() error {
	if r.skipped {
		return nil
	}

	for r.next < r.start {
		mat, err := r.src.ReadFrame()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: start frame %d, stream has %d frames", ErrInsufficientFrames, r.start, r.next)
		}
		if err != nil {
			return fmt.Errorf("skip frame %d: %w", r.next, err)
		}
		mat.Close()
		r.next++
	}

	r.skipped = true
	return nil
}

// Next returns the next frame, or io.EOF when the end bound is reached or
// the stream is exhausted. The caller must close the returned frame.
func (r *Reader) Next() (Frame, error) {
	if err := r.Skip(); err != nil {
		return Frame{}, err
	}

	if r.end > 0 && r.next >= r.end {
		return Frame{}, io.EOF
	}

	mat, err := r.src.ReadFrame()
	if errors.Is(err, io.EOF) {
		return Frame{}, io.EOF
	}
	if err != nil {
		return Frame{}, fmt.Errorf("read frame %d: %w", r.next, err)
	}

	f := Frame{
		Index:  r.next,
		Mat:    mat,
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}
	r.next++

	return f, nil
}

// Position returns the index of the frame Next will return.
func (r *Reader) Position() int {
	return r.next
}
