// Package camera models a pinhole camera with optional radial/tangential
// lens distortion.
package camera

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/fidtrack/internal/marker"
)

// DefaultFocalLength is used when no focal length is configured.
const DefaultFocalLength = 1.0

// undistortIterations bounds the fixed-point undistortion loop.
const undistortIterations = 20

var (
	// ErrInvalidFocalLength is returned for a non-positive or non-finite focal length.
	ErrInvalidFocalLength = errors.New("focal length must be positive")
	// ErrInvalidDimensions is returned for a non-positive frame size.
	ErrInvalidDimensions = errors.New("frame dimensions must be positive")
	// ErrResolutionChanged is returned when a frame does not match the
	// dimensions the model was built from.
	ErrResolutionChanged = errors.New("frame resolution changed mid-stream")
)

// Model holds camera intrinsics. It is built once from the first frame and
// is read-only afterwards.
type Model struct {
	Width  int
	Height int

	Fx, Fy float64
	Cx, Cy float64

	// Distortion is k1, k2, p1, p2 in the OpenCV convention.
	Distortion [4]float64
}

// New builds a model with fx = fy = focal, the principal point at the
// image center, zero skew and no distortion. The focal length is taken as
// a pixel-unit focal length.
func New(focal float64, width, height int) (*Model, error) {
	if !(focal > 0) || math.IsInf(focal, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFocalLength, focal)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	return &Model{
		Width:  width,
		Height: height,
		Fx:     focal,
		Fy:     focal,
		Cx:     float64(width) / 2,
		Cy:     float64(height) / 2,
	}, nil
}

// FocalFromSensor converts a lens focal length and sensor width, both in
// millimetres, into a focal length in pixels for a frame widthPx wide.
func FocalFromSensor(focalMM, sensorWidthMM float64, widthPx int) (float64, error) {
	if !(focalMM > 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFocalLength, focalMM)
	}
	if !(sensorWidthMM > 0) {
		return 0, fmt.Errorf("sensor width must be positive: %v", sensorWidthMM)
	}
	if widthPx <= 0 {
		return 0, fmt.Errorf("%w: width %d", ErrInvalidDimensions, widthPx)
	}
	return focalMM * float64(widthPx) / sensorWidthMM, nil
}

// FocalFromFOV converts a horizontal field of view in radians into a focal
// length in pixels for a frame widthPx wide.
func FocalFromFOV(hfov float64, widthPx int) (float64, error) {
	if !(hfov > 0) || hfov >= math.Pi {
		return 0, fmt.Errorf("horizontal field of view must be in (0, pi): %v", hfov)
	}
	if widthPx <= 0 {
		return 0, fmt.Errorf("%w: width %d", ErrInvalidDimensions, widthPx)
	}
	return float64(widthPx) / 2 / math.Tan(hfov/2), nil
}

// WithDistortion returns a copy of m using the given k1, k2, p1, p2.
func (m *Model) WithDistortion(d [4]float64) *Model {
	c := *m
	c.Distortion = d
	return &c
}

// Matrix returns the 3x3 intrinsic matrix.
func (m *Model) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m.Fx, 0, m.Cx,
		0, m.Fy, m.Cy,
		0, 0, 1,
	})
}

// CheckFrame verifies a frame has the dimensions the model was built for.
func (m *Model) CheckFrame(width, height int) error {
	if width != m.Width || height != m.Height {
		return fmt.Errorf("%w: model %dx%d, frame %dx%d", ErrResolutionChanged, m.Width, m.Height, width, height)
	}
	return nil
}

// Project maps a camera-space point to pixel coordinates.
func (m *Model) Project(p r3.Vec) marker.Point2 {
	x := p.X / p.Z
	y := p.Y / p.Z
	x, y = m.distort(x, y)
	return marker.Point2{
		X: m.Fx*x + m.Cx,
		Y: m.Fy*y + m.Cy,
	}
}

// Normalize maps a pixel to normalized, undistorted image coordinates
// (the z = 1 plane in camera space).
func (m *Model) Normalize(p marker.Point2) (x, y float64) {
	xd := (p.X - m.Cx) / m.Fx
	yd := (p.Y - m.Cy) / m.Fy
	if !m.hasDistortion() {
		return xd, yd
	}

	k1, k2, p1, p2 := m.Distortion[0], m.Distortion[1], m.Distortion[2], m.Distortion[3]
	x, y = xd, yd
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		icdist := 1 / (1 + k1*r2 + k2*r2*r2)
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (xd - dx) * icdist
		y = (yd - dy) * icdist
	}
	return x, y
}

func (m *Model) distort(x, y float64) (float64, float64) {
	if !m.hasDistortion() {
		return x, y
	}
	k1, k2, p1, p2 := m.Distortion[0], m.Distortion[1], m.Distortion[2], m.Distortion[3]
	r2 := x*x + y*y
	radial := 1 + k1*r2 + k2*r2*r2
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

func (m *Model) hasDistortion() bool {
	return m.Distortion != [4]float64{}
}
