// Package detector finds fiducial markers in video frames.
package detector

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/fidtrack/internal/marker"
)

// Detector defines the interface for marker detection implementations.
type Detector interface {
	// Detect finds markers in a single frame. Detection carries no state
	// between frames. A frame with no markers returns an empty Result and
	// a nil error.
	Detect(frame *gocv.Mat) (Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Result holds the markers decoded in one frame and the candidate
// quadrilaterals that looked like markers but failed identity decoding.
type Result struct {
	Markers  []marker.Observation
	Rejected []marker.Quad
}

// CornerRefinement selects how candidate corners are refined.
type CornerRefinement int

// Corner refinement methods, matching OpenCV's CORNER_REFINE_* values.
const (
	RefineNone    CornerRefinement = 0
	RefineSubpix  CornerRefinement = 1
	RefineContour CornerRefinement = 2
)

// Config holds tuning options for marker detection.
type Config struct {
	// Adaptive thresholding window sizes, in pixels (odd values).
	AdaptiveThreshWinSizeMin  int     `json:"adaptive_thresh_win_size_min"`
	AdaptiveThreshWinSizeMax  int     `json:"adaptive_thresh_win_size_max"`
	AdaptiveThreshWinSizeStep int     `json:"adaptive_thresh_win_size_step"`
	AdaptiveThreshConstant    float64 `json:"adaptive_thresh_constant"`

	// Marker perimeter limits relative to the larger image dimension.
	MinMarkerPerimeterRate float64 `json:"min_marker_perimeter_rate"`
	MaxMarkerPerimeterRate float64 `json:"max_marker_perimeter_rate"`

	CornerRefinement CornerRefinement `json:"corner_refinement"`

	// ErrorCorrectionRate scales the dictionary's correction capability (0-1).
	ErrorCorrectionRate float64 `json:"error_correction_rate"`

	DetectInvertedMarker bool `json:"detect_inverted_marker"`
}

// DefaultConfig returns OpenCV's defaults with sub-pixel corner refinement
// enabled, since pose accuracy depends directly on corner accuracy.
func DefaultConfig() Config {
	return Config{
		AdaptiveThreshWinSizeMin:  3,
		AdaptiveThreshWinSizeMax:  23,
		AdaptiveThreshWinSizeStep: 10,
		AdaptiveThreshConstant:    7,
		MinMarkerPerimeterRate:    0.03,
		MaxMarkerPerimeterRate:    4.0,
		CornerRefinement:          RefineSubpix,
		ErrorCorrectionRate:       0.6,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.AdaptiveThreshWinSizeMin < 3 {
		return fmt.Errorf("adaptive_thresh_win_size_min must be >= 3, got %d", c.AdaptiveThreshWinSizeMin)
	}
	if c.AdaptiveThreshWinSizeMax < c.AdaptiveThreshWinSizeMin {
		return fmt.Errorf("adaptive_thresh_win_size_max (%d) must be >= min (%d)", c.AdaptiveThreshWinSizeMax, c.AdaptiveThreshWinSizeMin)
	}
	if c.AdaptiveThreshWinSizeStep <= 0 {
		return fmt.Errorf("adaptive_thresh_win_size_step must be positive, got %d", c.AdaptiveThreshWinSizeStep)
	}
	if c.MinMarkerPerimeterRate <= 0 || c.MaxMarkerPerimeterRate <= c.MinMarkerPerimeterRate {
		return fmt.Errorf("marker perimeter rates must satisfy 0 < min < max, got %v..%v", c.MinMarkerPerimeterRate, c.MaxMarkerPerimeterRate)
	}
	if c.CornerRefinement < RefineNone || c.CornerRefinement > RefineContour {
		return fmt.Errorf("corner_refinement must be 0, 1 or 2, got %d", c.CornerRefinement)
	}
	if c.ErrorCorrectionRate < 0 || c.ErrorCorrectionRate > 1 {
		return fmt.Errorf("error_correction_rate must be between 0 and 1, got %v", c.ErrorCorrectionRate)
	}
	return nil
}
