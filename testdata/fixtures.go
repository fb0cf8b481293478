// Package testdata renders synthetic marker frames and videos for tests.
package testdata

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/fidtrack/internal/marker"
)

// MarkerSide is the resolution markers are generated at before warping.
const MarkerSide = 240

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	black = color.RGBA{}
)

// Placement puts one marker on a frame. Corners are the outer corners of
// the black border, clockwise from top-left, in pixel coordinates.
type Placement struct {
	Code    gocv.ArucoDictionaryCode
	ID      int
	Corners marker.Quad
}

// Square returns an axis-aligned quad of the given side with its top-left
// corner at (x, y).
func Square(x, y, side float64) marker.Quad {
	return marker.Quad{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}
}

// BlankFrame returns a white BGR frame. The caller must close it.
func BlankFrame(width, height int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), height, width, gocv.MatTypeCV8UC3)
}

// MarkerFrame renders the placements onto a white frame. The caller must
// close the returned Mat.
func MarkerFrame(width, height int, placements ...Placement) (gocv.Mat, error) {
	frame := BlankFrame(width, height)
	for _, p := range placements {
		if err := DrawMarker(&frame, p); err != nil {
			frame.Close()
			return gocv.Mat{}, err
		}
	}
	return frame, nil
}

// DrawMarker warps a generated marker onto frame so that its outer
// corners land on p.Corners.
func DrawMarker(frame *gocv.Mat, p Placement) error {
	if frame == nil || frame.Empty() {
		return errors.New("empty frame")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.ArucoGenerateImageMarker(p.Code, p.ID, MarkerSide, gray, 1)
	if gray.Empty() {
		return fmt.Errorf("generate marker %d: empty image", p.ID)
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR); err != nil {
		return fmt.Errorf("convert marker %d: %w", p.ID, err)
	}

	// OpenCV places pixel centres on integer coordinates, so the outer
	// edge of the generated image sits half a pixel outside.
	edge := float32(MarkerSide) - 0.5
	src := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: -0.5, Y: -0.5},
		{X: edge, Y: -0.5},
		{X: edge, Y: edge},
		{X: -0.5, Y: edge},
	})
	defer src.Close()

	pts := make([]gocv.Point2f, marker.NumCorners)
	for i, c := range p.Corners {
		pts[i] = gocv.Point2f{X: float32(c.X), Y: float32(c.Y)}
	}
	dst := gocv.NewPoint2fVectorFromPoints(pts)
	defer dst.Close()

	transform := gocv.GetPerspectiveTransform2f(src, dst)
	defer transform.Close()

	size := image.Pt(frame.Cols(), frame.Rows())

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(bgr, &warped, transform, size, gocv.InterpolationLinear, gocv.BorderConstant, white)

	solid := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), MarkerSide, MarkerSide, gocv.MatTypeCV8UC1)
	defer solid.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.WarpPerspectiveWithParams(solid, &mask, transform, size, gocv.InterpolationNearestNeighbor, gocv.BorderConstant, black)

	return warped.CopyToWithMask(frame, mask)
}

// WriteVideo encodes frames as an MJPG AVI at path. All frames must share
// the first frame's size.
func WriteVideo(path string, fps float64, frames []gocv.Mat) error {
	if len(frames) == 0 {
		return errors.New("no frames to write")
	}

	width, height := frames[0].Cols(), frames[0].Rows()
	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, width, height, true)
	if err != nil {
		return fmt.Errorf("open video writer %s: %w", path, err)
	}
	defer writer.Close()

	if !writer.IsOpened() {
		return fmt.Errorf("open video writer %s: not opened", path)
	}

	for i, f := range frames {
		if f.Cols() != width || f.Rows() != height {
			return fmt.Errorf("frame %d is %dx%d, want %dx%d", i, f.Cols(), f.Rows(), width, height)
		}
		if err := writer.Write(f); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}

	return nil
}

// CloseAll releases every frame.
func CloseAll(frames []gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
