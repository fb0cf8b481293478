// Package capture provides sequential frame reading from video files using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrMediaOpen is returned when a path cannot be decoded as a video.
	ErrMediaOpen = errors.New("failed to open media")
	// ErrSourceNotOpen is returned when reading from a source that is not open.
	ErrSourceNotOpen = errors.New("source is not open")
)

// Source is a forward-only sequence of decoded frames.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame, or io.EOF once the stream is
	// exhausted. The caller is responsible for closing the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// Info describes an opened video as reported by the container.
// Values the backend cannot determine are zero.
type Info struct {
	FrameCount int
	FPS        float64
	Width      int
	Height     int
}

// VideoSource decodes frames from a video file using GoCV.
type VideoSource struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
}

// NewVideoSource creates a VideoSource for the file at path. The file is
// not touched until Open is called.
func NewVideoSource(path string) *VideoSource {
	return &VideoSource{path: path}
}

// Open opens the video for decoding.
func (s *VideoSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.path == "" {
		return fmt.Errorf("%w: empty path", ErrMediaOpen)
	}
	if info, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w %s: %v", ErrMediaOpen, s.path, err)
	} else if info.IsDir() {
		return fmt.Errorf("%w %s: is a directory", ErrMediaOpen, s.path)
	}

	capture, err := gocv.VideoCaptureFile(s.path)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrMediaOpen, s.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w %s", ErrMediaOpen, s.path)
	}

	s.capture = capture
	s.running = true

	return nil
}

// Close releases the decoder.
func (s *VideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.capture == nil {
		s.running = false
		return nil
	}

	err := s.capture.Close()
	s.capture = nil
	s.running = false

	return err
}

// ReadFrame decodes the next frame.
// The caller is responsible for closing the returned Mat.
func (s *VideoSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.capture == nil {
		return nil, ErrSourceNotOpen
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}

	return &mat, nil
}

// IsOpen returns true if the video is open.
func (s *VideoSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Info reports container metadata. Frame counts from containers are
// estimates and are only used for logging.
func (s *VideoSource) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.capture == nil {
		return Info{}
	}

	return Info{
		FrameCount: int(s.capture.Get(gocv.VideoCaptureFrameCount)),
		FPS:        s.capture.Get(gocv.VideoCaptureFPS),
		Width:      int(s.capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(s.capture.Get(gocv.VideoCaptureFrameHeight)),
	}
}

// Path returns the media path.
func (s *VideoSource) Path() string {
	return s.path
}
