// Package marker holds the per-frame data model shared by the detector,
// the pose estimator and the result sinks.
package marker

import "math"

// Corner indices of a Quad, in the order the detector reports them.
const (
	TopLeft     = 0
	TopRight    = 1
	BottomRight = 2
	BottomLeft  = 3
	NumCorners  = 4
)

// Point2 is a point on the image plane, in pixels.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is the four image-plane corners of a marker candidate.
type Quad [NumCorners]Point2

// Area returns the signed area of the quadrilateral (shoelace formula).
// The sign depends on the winding order.
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < NumCorners; i++ {
		a := q[i]
		b := q[(i+1)%NumCorners]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// Perimeter returns the length of the quadrilateral outline.
func (q Quad) Perimeter() float64 {
	var sum float64
	for i := 0; i < NumCorners; i++ {
		a := q[i]
		b := q[(i+1)%NumCorners]
		sum += math.Hypot(b.X-a.X, b.Y-a.Y)
	}
	return sum
}

// Center returns the mean of the four corners.
func (q Quad) Center() Point2 {
	var c Point2
	for _, p := range q {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= NumCorners
	c.Y /= NumCorners
	return c
}

// Flat returns the corners as x0,y0,x1,y1,... which is the layout the
// record stream uses.
func (q Quad) Flat() []float64 {
	out := make([]float64, 0, NumCorners*2)
	for _, p := range q {
		out = append(out, p.X, p.Y)
	}
	return out
}

// Observation is a decoded marker found in one frame.
type Observation struct {
	ID      int
	Corners Quad
}

// Pose is a rigid transform from the marker's object frame to the camera
// frame. Translation is expressed in the same unit as the marker size.
type Pose struct {
	Rotation    [3]float64 // axis-angle, radians
	Translation [3]float64
	Error       float64 // RMS reprojection error in pixels
}

// Detection is an observation together with its pose solutions, best first.
// Planar squares seen in perspective have a two-fold ambiguity, so there
// are usually two solutions.
type Detection struct {
	MarkerID int
	Corners  Quad
	Poses    []Pose
}

// Best returns the lowest-error pose.
func (d Detection) Best() Pose {
	if len(d.Poses) == 0 {
		return Pose{}
	}
	return d.Poses[0]
}

// FrameRecord is the unit emitted downstream for each processed frame.
// An empty Detections slice means no markers were visible.
type FrameRecord struct {
	FrameID    int
	Detections []Detection
}

// Empty reports whether the frame has no detections.
func (r FrameRecord) Empty() bool {
	return len(r.Detections) == 0
}
