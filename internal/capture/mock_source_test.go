package capture

import (
	"errors"
	"io"
	"testing"

	"gocv.io/x/gocv"
)

// numberedFrames builds n frames whose width encodes their position.
func numberedFrames(t *testing.T, n int) []*gocv.Mat {
	t.Helper()
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := gocv.NewMatWithSize(4, 10+i, gocv.MatTypeCV8UC3)
		frames[i] = &m
	}
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})
	return frames
}

func TestMockSource_Playback(t *testing.T) {
	src := NewMockSource(numberedFrames(t, 2), false)

	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	for i := 0; i < 2; i++ {
		f, err := src.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if f.Cols() != 10+i {
			t.Errorf("frame %d has width %d, want %d", i, f.Cols(), 10+i)
		}
		f.Close()
	}

	// Third read reports end of stream (no loop)
	if _, err := src.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame() error = %v, want io.EOF", err)
	}
}

func TestMockSource_Loop(t *testing.T) {
	src := NewMockSource(numberedFrames(t, 1), true)
	src.Open()
	defer src.Close()

	for i := 0; i < 5; i++ {
		f, err := src.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockSource_NotOpen(t *testing.T) {
	src := NewMockSource(numberedFrames(t, 1), false)
	if _, err := src.ReadFrame(); !errors.Is(err, ErrSourceNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrSourceNotOpen", err)
	}
}

func TestMockSource_Errors(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		src := NewMockSource(nil, false)
		src.SetOpenError(ErrMediaOpen)
		if err := src.Open(); !errors.Is(err, ErrMediaOpen) {
			t.Errorf("Open() error = %v, want ErrMediaOpen", err)
		}
		if src.IsOpen() {
			t.Error("IsOpen() should be false after failed Open()")
		}
	})

	t.Run("read error", func(t *testing.T) {
		boom := errors.New("decoder stalled")
		src := NewMockSource(numberedFrames(t, 3), false)
		src.FailAt(1, boom)
		src.Open()
		defer src.Close()

		f, err := src.ReadFrame()
		if err != nil {
			t.Fatalf("first ReadFrame() error = %v", err)
		}
		f.Close()

		if _, err := src.ReadFrame(); !errors.Is(err, boom) {
			t.Errorf("second ReadFrame() error = %v, want %v", err, boom)
		}
		if got := src.Reads(); got != 2 {
			t.Errorf("Reads() = %d, want 2", got)
		}
	})
}
