package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/fidtrack/internal/marker"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	result Result
	queue  []Result
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetResult sets the result returned by Detect once the queue is empty.
func (m *MockDetector) SetResult(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = res
}

// SetMarkers is shorthand for SetResult with only accepted markers.
func (m *MockDetector) SetMarkers(obs ...marker.Observation) {
	m.SetResult(Result{Markers: obs})
}

// Queue appends per-call results; each Detect consumes one.
func (m *MockDetector) Queue(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, results...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next queued result, or the configured result or error.
func (m *MockDetector) Detect(frame *gocv.Mat) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return Result{}, m.err
	}
	if len(m.queue) > 0 {
		res := m.queue[0]
		m.queue = m.queue[1:]
		return res, nil
	}
	return m.result, nil
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
