// Package config parses the command line into an immutable run configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ayusman/fidtrack/internal/camera"
	"github.com/ayusman/fidtrack/internal/overlay"
)

var (
	// ErrConfiguration is returned for any invalid command line.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrHelp is returned when usage was requested.
	ErrHelp = errors.New("help requested")
)

// Run is the configuration of one tracking run.
type Run struct {
	MediaPath  string
	Dictionary string
	MarkerSize float64 // millimetres

	FocalMM  float64
	SensorMM float64 // sensor width; 0 means FocalMM is used as the pixel focal length
	FOVH     float64 // horizontal field of view in radians; 0 means unset

	StartFrame int
	EndFrame   int // exclusive; 0 means until the end of the stream

	PrintEmptyFrames bool
	Verbose          bool
	ListDictionaries bool

	Workers int

	DBPath string

	DebugDir    string
	DebugFormat string
	DebugEvery  int

	TuningPath string
	Tuning     *Tuning
}

const positionalArgs = 3

// Parse builds a Run from command line arguments (without the program
// name). Options may appear before, between or after the positional
// arguments. -h or --help anywhere returns ErrHelp before any other
// validation.
func Parse(args []string) (*Run, error) {
	if wantsHelp(args) {
		return nil, ErrHelp
	}

	cfg := &Run{
		FocalMM:     camera.DefaultFocalLength,
		Workers:     1,
		DebugFormat: string(overlay.PNG),
		DebugEvery:  1,
	}

	fs := flag.NewFlagSet("fidtrack", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Float64Var(&cfg.FocalMM, "focalmm", cfg.FocalMM, "focal length")
	fs.Float64Var(&cfg.SensorMM, "sensor-mm", 0, "sensor width in mm")
	fs.Float64Var(&cfg.FOVH, "fov-h", 0, "horizontal field of view in radians")
	fs.BoolVar(&cfg.PrintEmptyFrames, "print-empty-frames", false, "emit frames without detections")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose logging")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "verbose logging")
	fs.BoolVar(&cfg.ListDictionaries, "print-supported-dictionaries", false, "list dictionaries and exit")
	fs.IntVar(&cfg.StartFrame, "start-frame", 0, "first frame to process")
	fs.IntVar(&cfg.EndFrame, "end-frame", 0, "stop before this frame")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "detection workers")
	fs.StringVar(&cfg.DBPath, "db", "", "SQLite database to record the run in")
	fs.StringVar(&cfg.DebugDir, "debug-dir", "", "directory for annotated snapshots")
	fs.StringVar(&cfg.DebugFormat, "debug-format", cfg.DebugFormat, "snapshot format")
	fs.IntVar(&cfg.DebugEvery, "debug-every", cfg.DebugEvery, "snapshot every n-th frame")
	fs.StringVar(&cfg.TuningPath, "config", "", "JSON tuning file")

	var positional []string
	rest := args
	for len(rest) > 0 {
		if err := fs.Parse(rest); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		consumed := len(rest) - fs.NArg()
		// flag stops at the first non-flag argument and swallows "--".
		if consumed > 0 && rest[consumed-1] == "--" {
			positional = append(positional, fs.Args()...)
			break
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	if cfg.ListDictionaries {
		return cfg, nil
	}

	if len(positional) < positionalArgs {
		return nil, fmt.Errorf("%w: expected %d arguments <media> <dictionary> <marker_size_mm>, got %d",
			ErrConfiguration, positionalArgs, len(positional))
	}
	if len(positional) > positionalArgs {
		return nil, fmt.Errorf("%w: unexpected argument %q", ErrConfiguration, positional[positionalArgs])
	}

	cfg.MediaPath = positional[0]
	cfg.Dictionary = positional[1]

	size, err := strconv.ParseFloat(positional[2], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: marker size %q is not a number", ErrConfiguration, positional[2])
	}
	cfg.MarkerSize = size

	if cfg.TuningPath != "" {
		tuning, err := LoadTuning(cfg.TuningPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		cfg.Tuning = tuning
	} else {
		cfg.Tuning = DefaultTuning()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values Parse cannot reject syntactically.
func (c *Run) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if c.MediaPath == "" {
		return invalid("media path is empty")
	}
	if c.Dictionary == "" {
		return invalid("dictionary name is empty")
	}
	if !positiveFinite(c.MarkerSize) {
		return invalid("marker size must be a positive number, got %v", c.MarkerSize)
	}
	if !positiveFinite(c.FocalMM) {
		return invalid("focal length must be a positive number, got %v", c.FocalMM)
	}
	if c.SensorMM < 0 || math.IsNaN(c.SensorMM) {
		return invalid("sensor width must not be negative, got %v", c.SensorMM)
	}
	if c.FOVH < 0 || c.FOVH >= math.Pi || math.IsNaN(c.FOVH) {
		return invalid("horizontal field of view must be in (0, pi) radians, got %v", c.FOVH)
	}
	if c.SensorMM > 0 && c.FOVH > 0 {
		return invalid("--sensor-mm and --fov-h are mutually exclusive")
	}
	if c.StartFrame < 0 {
		return invalid("start frame must not be negative, got %d", c.StartFrame)
	}
	if c.EndFrame < 0 {
		return invalid("end frame must not be negative, got %d", c.EndFrame)
	}
	if c.EndFrame > 0 && c.EndFrame <= c.StartFrame {
		return invalid("end frame %d must be greater than start frame %d", c.EndFrame, c.StartFrame)
	}
	if c.Workers < 1 {
		return invalid("workers must be at least 1, got %d", c.Workers)
	}
	if c.DebugEvery < 1 {
		return invalid("debug-every must be at least 1, got %d", c.DebugEvery)
	}
	if _, err := overlay.ParseFormat(c.DebugFormat); err != nil {
		return invalid("debug-format: %v", err)
	}
	if c.Tuning != nil {
		if err := c.Tuning.Validate(); err != nil {
			return invalid("%v", err)
		}
	}

	return nil
}

// FocalLength returns the pixel focal length for frames of the given
// width. With neither --sensor-mm nor --fov-h the focal length is used
// as given.
func (c *Run) FocalLength(width int) (float64, error) {
	switch {
	case c.SensorMM > 0:
		return camera.FocalFromSensor(c.FocalMM, c.SensorMM, width)
	case c.FOVH > 0:
		return camera.FocalFromFOV(c.FOVH, width)
	default:
		return c.FocalMM, nil
	}
}

// OverlayOptions returns the snapshot settings, or false when snapshots
// are disabled.
func (c *Run) OverlayOptions() (overlay.Options, bool) {
	if c.DebugDir == "" {
		return overlay.Options{}, false
	}
	format, _ := overlay.ParseFormat(c.DebugFormat)
	opts := overlay.Options{
		Dir:    c.DebugDir,
		Format: format,
		Every:  c.DebugEvery,
	}
	if c.Tuning != nil {
		opts.MaxWidth = c.Tuning.Overlay.MaxWidth
		opts.Quality = c.Tuning.Overlay.Quality
		opts.Lossless = c.Tuning.Overlay.Lossless
	}
	return opts, true
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		switch a {
		case "-h", "--help", "-help", "--h":
			return true
		}
	}
	return false
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Usage writes the command synopsis to w.
func Usage(w io.Writer) {
	lines := []string{
		"Usage: fidtrack <path_to_mediafile> <dictionary_name> <marker_size_mm> [options]",
		"       fidtrack --print-supported-dictionaries",
		"",
		"Detects fiducial markers in every frame of a video and writes one JSON",
		"record per frame to stdout.",
		"",
		"Options:",
		"  --focalmm=F                focal length (default 1.0)",
		"  --sensor-mm=W              sensor width in mm; derives the pixel focal length from --focalmm",
		"  --fov-h=RAD                horizontal field of view; derives the pixel focal length",
		"  --print-empty-frames       also emit frames without detections",
		"  -v, --verbose              log progress to stderr",
		"  --start-frame=N            skip the first N frames",
		"  --end-frame=N              stop before frame N",
		"  --workers=N                detect on N goroutines (default 1)",
		"  --db=PATH                  also record the run in a SQLite database",
		"  --debug-dir=DIR            write annotated snapshots to DIR",
		"  --debug-format=FMT         png, jpg or webp (default png)",
		"  --debug-every=N            snapshot every N-th frame (default 1)",
		"  --config=FILE              JSON tuning file",
		"  --print-supported-dictionaries",
		"                             list dictionary names and exit",
		"  -h, --help                 show this help",
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}
