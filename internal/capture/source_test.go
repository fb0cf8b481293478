package capture

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func TestVideoSource_OpenMissingFile(t *testing.T) {
	src := NewVideoSource(filepath.Join(t.TempDir(), "nope.mp4"))

	err := src.Open()
	if !errors.Is(err, ErrMediaOpen) {
		t.Fatalf("Open() error = %v, want ErrMediaOpen", err)
	}
	if src.IsOpen() {
		t.Error("IsOpen() should be false after a failed Open()")
	}
}

func TestVideoSource_OpenInvalid(t *testing.T) {
	tmpDir := t.TempDir()

	notVideo := filepath.Join(tmpDir, "notes.mp4")
	if err := os.WriteFile(notVideo, []byte("definitely not a video"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "empty path", path: ""},
		{name: "directory", path: tmpDir},
		{name: "garbage file", path: notVideo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewVideoSource(tt.path)
			err := src.Open()
			if !errors.Is(err, ErrMediaOpen) {
				t.Errorf("Open() error = %v, want ErrMediaOpen", err)
			}
			src.Close()
		})
	}
}

func TestVideoSource_ReadFrame_NotOpened(t *testing.T) {
	src := NewVideoSource("video.mp4")

	_, err := src.ReadFrame()
	if !errors.Is(err, ErrSourceNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrSourceNotOpen", err)
	}
	if info := src.Info(); info != (Info{}) {
		t.Errorf("Info() = %+v, want zero before Open()", info)
	}
}

func TestVideoSource_Close_NotOpened(t *testing.T) {
	src := NewVideoSource("video.mp4")

	// Close on a source that was never opened should not panic and return nil
	if err := src.Close(); err != nil {
		t.Errorf("Close() on not opened source should return nil, got: %v", err)
	}
	if got := src.Path(); got != "video.mp4" {
		t.Errorf("Path() = %q, want video.mp4", got)
	}
}

func TestVideoSource_ReadAll_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	path := filepath.Join(t.TempDir(), "clip.avi")
	const frames = 5
	writer, err := gocv.VideoWriterFile(path, "MJPG", 10, 64, 48, true)
	if err != nil {
		t.Skipf("skipping test - video writer not available: %v", err)
	}
	for i := 0; i < frames; i++ {
		mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*40), 0, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
		if err := writer.Write(mat); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		mat.Close()
	}
	writer.Close()

	src := NewVideoSource(path)
	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	if info := src.Info(); info.Width != 64 || info.Height != 48 {
		t.Errorf("Info() = %+v, want 64x48", info)
	}

	read := 0
	for {
		mat, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if mat.Cols() != 64 || mat.Rows() != 48 {
			t.Errorf("frame %d is %dx%d, want 64x48", read, mat.Cols(), mat.Rows())
		}
		mat.Close()
		read++
	}
	if read != frames {
		t.Errorf("read %d frames, want %d", read, frames)
	}
}
