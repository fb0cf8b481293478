// Package overlay writes annotated debug snapshots of processed frames.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/fidtrack/internal/camera"
	"github.com/ayusman/fidtrack/internal/marker"
	"github.com/ayusman/fidtrack/internal/pose"
)

// ErrUnknownFormat is returned for unsupported snapshot formats.
var ErrUnknownFormat = errors.New("unknown image format")

// Format is a snapshot file format.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpg"
	WebP Format = "webp"
)

// ParseFormat accepts png, jpg, jpeg or webp in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "webp":
		return WebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Options controls which frames are written and how.
type Options struct {
	Dir      string
	Format   Format
	Every    int // write every n-th frame; 0 or 1 writes all
	MaxWidth int // downscale wider snapshots; 0 keeps full size
	Quality  int // jpg/webp quality, 1-100
	Lossless bool
}

var (
	outlineColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	cornerColor    = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	labelColor     = color.RGBA{R: 255, G: 0, B: 255, A: 0}
	axisColors     = [3]color.RGBA{{R: 255}, {G: 255}, {B: 255}}
	defaultQuality = 90
)

// Writer draws detections onto frames and saves them to a directory.
type Writer struct {
	opts       Options
	cam        *camera.Model
	axisLength float64
	written    int
}

// New creates the output directory and returns a Writer. Axes are drawn
// half a marker long.
func New(opts Options, cam *camera.Model, markerSize float64) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if cam == nil {
		return nil, errors.New("camera model is required")
	}
	if opts.Format == "" {
		opts.Format = PNG
	}
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	opts.Format = format
	if opts.Every < 1 {
		opts.Every = 1
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = defaultQuality
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	return &Writer{opts: opts, cam: cam, axisLength: markerSize / 2}, nil
}

// Wants reports whether frameID will be written.
func (w *Writer) Wants(frameID int) bool {
	return frameID%w.opts.Every == 0
}

// Written returns how many snapshots have been saved.
func (w *Writer) Written() int {
	return w.written
}

// Write annotates a copy of frame with rec and saves it. It returns the
// file path, or "" when the frame is skipped.
func (w *Writer) Write(frame *gocv.Mat, rec marker.FrameRecord) (string, error) {
	if !w.Wants(rec.FrameID) {
		return "", nil
	}
	if frame == nil || frame.Empty() {
		return "", errors.New("empty frame")
	}

	canvas := gocv.NewMat()
	defer canvas.Close()
	if frame.Channels() == 1 {
		if err := gocv.CvtColor(*frame, &canvas, gocv.ColorGrayToBGR); err != nil {
			return "", fmt.Errorf("convert frame %d: %w", rec.FrameID, err)
		}
	} else {
		frame.CopyTo(&canvas)
	}

	for _, d := range rec.Detections {
		if err := w.draw(&canvas, d); err != nil {
			return "", fmt.Errorf("draw marker %d on frame %d: %w", d.MarkerID, rec.FrameID, err)
		}
	}

	img, err := canvas.ToImage()
	if err != nil {
		return "", fmt.Errorf("convert frame %d: %w", rec.FrameID, err)
	}
	if w.opts.MaxWidth > 0 && img.Bounds().Dx() > w.opts.MaxWidth {
		img = imaging.Resize(img, w.opts.MaxWidth, 0, imaging.Lanczos)
	}

	path := filepath.Join(w.opts.Dir, fmt.Sprintf("frame_%06d.%s", rec.FrameID, w.opts.Format))
	if err := save(img, path, w.opts.Format, w.opts.Quality, w.opts.Lossless); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	w.written++

	return path, nil
}

func (w *Writer) draw(canvas *gocv.Mat, d marker.Detection) error {
	for i := 0; i < marker.NumCorners; i++ {
		a := toPoint(d.Corners[i])
		b := toPoint(d.Corners[(i+1)%marker.NumCorners])
		if err := gocv.Line(canvas, a, b, outlineColor, 2); err != nil {
			return err
		}
	}
	gocv.Circle(canvas, toPoint(d.Corners[marker.TopLeft]), 4, cornerColor, -1)

	c := toPoint(d.Corners.Center())
	if err := gocv.PutText(canvas, strconv.Itoa(d.MarkerID), c.Add(image.Pt(6, -6)), gocv.FontHersheySimplex, 0.6, labelColor, 2); err != nil {
		return err
	}

	if len(d.Poses) == 0 {
		return nil
	}
	best := d.Best()
	origin := toPoint(w.cam.Project(pose.Transform(best, r3.Vec{})))
	axes := [3]r3.Vec{{X: w.axisLength}, {Y: w.axisLength}, {Z: w.axisLength}}
	for i, axis := range axes {
		end := toPoint(w.cam.Project(pose.Transform(best, axis)))
		if err := gocv.Line(canvas, origin, end, axisColors[i], 2); err != nil {
			return err
		}
	}
	return nil
}

func toPoint(p marker.Point2) image.Point {
	return image.Pt(int(p.X+0.5), int(p.Y+0.5))
}

func save(img image.Image, path string, format Format, quality int, lossless bool) error {
	switch format {
	case WebP:
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case PNG:
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
