package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ayusman/fidtrack/internal/detector"
)

// Tuning holds the optional settings read from a --config file.
type Tuning struct {
	Detector detector.Config `json:"detector"`
	Overlay  OverlayConfig   `json:"overlay"`

	// Distortion holds k1, k2, p1, p2 of the lens.
	Distortion [4]float64 `json:"distortion"`
}

// OverlayConfig holds snapshot encoding settings.
type OverlayConfig struct {
	MaxWidth int  `json:"max_width"`
	Quality  int  `json:"quality"`
	Lossless bool `json:"lossless"`
}

// DefaultTuning returns a configuration with default values.
func DefaultTuning() *Tuning {
	return &Tuning{
		Detector: detector.DefaultConfig(),
		Overlay: OverlayConfig{
			MaxWidth: 1280,
			Quality:  90,
		},
	}
}

// LoadTuning reads a JSON tuning file. Fields missing from the file keep
// their defaults.
func LoadTuning(filename string) (*Tuning, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	t := DefaultTuning()
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return t, nil
}

// SaveToFile writes the tuning as indented JSON.
func (t *Tuning) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the tuning is valid.
func (t *Tuning) Validate() error {
	if err := t.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if t.Overlay.MaxWidth < 0 {
		return fmt.Errorf("overlay.max_width must not be negative")
	}
	if t.Overlay.Quality < 0 || t.Overlay.Quality > 100 {
		return fmt.Errorf("overlay.quality must be between 0 and 100")
	}
	for i, d := range t.Distortion {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("distortion[%d] must be finite", i)
		}
	}
	return nil
}

// HasDistortion reports whether any distortion coefficient is set.
func (t *Tuning) HasDistortion() bool {
	return t.Distortion != [4]float64{}
}
