package detector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/fidtrack/internal/dictionary"
	"github.com/ayusman/fidtrack/internal/marker"
)

// ErrDetectorClosed is returned when Detect is called after Close.
var ErrDetectorClosed = errors.New("detector is closed")

// ArucoDetector implements Detector using OpenCV's ArUco module.
// A single instance must not be shared between goroutines without the
// internal lock, which serializes calls.
type ArucoDetector struct {
	dict     dictionary.Dictionary
	config   Config
	detector gocv.ArucoDetector
	gray     gocv.Mat
	mu       sync.Mutex
	closed   bool
}

// NewArucoDetector creates a detector for the given dictionary.
func NewArucoDetector(dict dictionary.Dictionary, config Config) (*ArucoDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	params := gocv.NewArucoDetectorParameters()
	params.SetAdaptiveThreshWinSizeMin(config.AdaptiveThreshWinSizeMin)
	params.SetAdaptiveThreshWinSizeMax(config.AdaptiveThreshWinSizeMax)
	params.SetAdaptiveThreshWinSizeStep(config.AdaptiveThreshWinSizeStep)
	params.SetAdaptiveThreshConstant(config.AdaptiveThreshConstant)
	params.SetMinMarkerPerimeterRate(config.MinMarkerPerimeterRate)
	params.SetMaxMarkerPerimeterRate(config.MaxMarkerPerimeterRate)
	params.SetCornerRefinementMethod(int(config.CornerRefinement))
	params.SetErrorCorrectionRate(config.ErrorCorrectionRate)
	params.SetDetectInvertedMarker(config.DetectInvertedMarker)

	codebook := gocv.GetPredefinedDictionary(dict.Code)

	return &ArucoDetector{
		dict:     dict,
		config:   config,
		detector: gocv.NewArucoDetectorWithParams(codebook, params),
		gray:     gocv.NewMat(),
	}, nil
}

// Dictionary returns the codebook the detector decodes against.
func (d *ArucoDetector) Dictionary() dictionary.Dictionary {
	return d.dict
}

// Detect finds markers in frame. Markers are returned ordered by ID, then
// by position, so records are stable across runs.
func (d *ArucoDetector) Detect(frame *gocv.Mat) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, ErrDetectorClosed
	}
	if frame == nil || frame.Empty() {
		return Result{}, errors.New("empty frame")
	}

	input := *frame
	if frame.Channels() > 1 {
		if err := gocv.CvtColor(*frame, &d.gray, gocv.ColorBGRToGray); err != nil {
			return Result{}, fmt.Errorf("convert to grayscale: %w", err)
		}
		input = d.gray
	}

	corners, ids, rejected := d.detector.DetectMarkers(input)

	var res Result
	for i, c := range corners {
		if i >= len(ids) || len(c) != marker.NumCorners {
			continue
		}
		res.Markers = append(res.Markers, marker.Observation{
			ID:      ids[i],
			Corners: toQuad(c),
		})
	}
	for _, c := range rejected {
		if len(c) != marker.NumCorners {
			continue
		}
		res.Rejected = append(res.Rejected, toQuad(c))
	}

	SortObservations(res.Markers)
	return res, nil
}

// Close releases the OpenCV detector.
func (d *ArucoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.detector.Close()
	return d.gray.Close()
}

// SortObservations orders observations by marker ID, breaking ties by the
// top-left corner so duplicate IDs keep a stable order.
func SortObservations(obs []marker.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].ID != obs[j].ID {
			return obs[i].ID < obs[j].ID
		}
		a, b := obs[i].Corners[marker.TopLeft], obs[j].Corners[marker.TopLeft]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}

func toQuad(points []gocv.Point2f) marker.Quad {
	var q marker.Quad
	for i := 0; i < marker.NumCorners; i++ {
		q[i] = marker.Point2{X: float64(points[i].X), Y: float64(points[i].Y)}
	}
	return q
}
