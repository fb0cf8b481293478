// Package app runs the marker tracking pipeline over a media file.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ayusman/fidtrack/internal/camera"
	"github.com/ayusman/fidtrack/internal/capture"
	"github.com/ayusman/fidtrack/internal/config"
	"github.com/ayusman/fidtrack/internal/detector"
	"github.com/ayusman/fidtrack/internal/dictionary"
	"github.com/ayusman/fidtrack/internal/emitter"
	"github.com/ayusman/fidtrack/internal/store"
)

// ErrNotConfigured is returned by Run when the app is not in the
// Configured state, for example on a second call.
var ErrNotConfigured = errors.New("app is not configured")

// State is the pipeline lifecycle state.
type State int

const (
	Unconfigured State = iota
	Configured
	Reading
	Detecting
	Estimating
	Emitting
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Reading:
		return "reading"
	case Detecting:
		return "detecting"
	case Estimating:
		return "estimating"
	case Emitting:
		return "emitting"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DetectorFactory builds one detector. The parallel runner calls it once
// per worker.
type DetectorFactory func(dictionary.Dictionary, detector.Config) (detector.Detector, error)

// ArucoFactory builds OpenCV ArUco detectors.
func ArucoFactory(dict dictionary.Dictionary, cfg detector.Config) (detector.Detector, error) {
	return detector.NewArucoDetector(dict, cfg)
}

// Deps are the collaborators of a run. Only Sink is required.
type Deps struct {
	// Source defaults to a capture.VideoSource over the configured media.
	Source capture.Source
	// NewDetector defaults to ArucoFactory.
	NewDetector DetectorFactory
	// Sink receives every frame record. Run closes it.
	Sink emitter.Sink
}

// Summary describes a finished run.
type Summary struct {
	RunID     string // store run ID, empty without --db
	Frames    int    // frames processed
	Markers   int    // markers reported
	Omitted   int    // markers dropped because their pose could not be solved
	Rejected  int    // candidates that failed identity decoding
	Snapshots int
}

// App orchestrates one tracking run.
type App struct {
	cfg   *config.Run
	deps  Deps
	mu    sync.RWMutex
	state State
}

// New validates cfg and returns an App in the Configured state.
func New(cfg *config.Run, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		return nil, errors.New("a sink is required")
	}
	if deps.NewDetector == nil {
		deps.NewDetector = ArucoFactory
	}
	if deps.Source == nil {
		deps.Source = capture.NewVideoSource(cfg.MediaPath)
	}

	return &App{cfg: cfg, deps: deps, state: Configured}, nil
}

// State returns the current lifecycle state.
func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *App) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// Run processes the media from the start frame to the end bound and
// emits one record per frame. It can only be called once. Per-marker pose
// failures are counted in the summary and never abort the run.
func (a *App) Run(ctx context.Context) (Summary, error) {
	if st := a.State(); st != Configured {
		return Summary{}, fmt.Errorf("%w: state is %s", ErrNotConfigured, st)
	}

	sum, err := a.run(ctx)
	if err != nil {
		a.setState(Failed)
		return sum, err
	}

	a.setState(Closed)
	a.debugf("Processed %d frames, %d markers reported, %d omitted", sum.Frames, sum.Markers, sum.Omitted)
	return sum, nil
}

func (a *App) run(ctx context.Context) (sum Summary, err error) {
	sink := a.deps.Sink
	var st *store.Store
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
		// The store sink finishes the run on Close, so the store goes last.
		if st == nil {
			return
		}
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	// The dictionary is resolved before any media is touched.
	dict, err := dictionary.Resolve(a.cfg.Dictionary)
	if err != nil {
		return sum, err
	}
	a.debugf("Using dictionary %s (%d ids)", dict, dict.IDs)

	tuning := a.cfg.Tuning
	if tuning == nil {
		tuning = config.DefaultTuning()
	}

	src := a.deps.Source
	if err := src.Open(); err != nil {
		return sum, err
	}
	defer src.Close()

	if vs, ok := src.(*capture.VideoSource); ok {
		info := vs.Info()
		a.debugf("Opened %s: %dx%d, %.2f fps, ~%d frames", vs.Path(), info.Width, info.Height, info.FPS, info.FrameCount)
	}

	reader, err := capture.NewReader(src, a.cfg.StartFrame, a.cfg.EndFrame)
	if err != nil {
		return sum, err
	}

	a.setState(Reading)
	if err := reader.Skip(); err != nil {
		return sum, err
	}

	if a.cfg.DBPath != "" {
		opened, runID, err := a.openStore(dict)
		if err != nil {
			return sum, err
		}
		st = opened
		sum.RunID = runID
		sink = emitter.Tee(sink, store.NewSink(st, runID))
	}

	detectors, err := a.newDetectors(dict, tuning.Detector)
	if err != nil {
		return sum, err
	}
	defer func() {
		for _, d := range detectors {
			d.Close()
		}
	}()

	p := &pipeline{app: a, reader: reader, sink: sink, sum: &sum}

	first, err := reader.Next()
	if err != nil {
		// A stream that ends exactly at the start frame yields no records.
		return sum, ignoreEOF(err)
	}
	if err := p.setup(first, tuning); err != nil {
		first.Close()
		return sum, err
	}

	if len(detectors) > 1 {
		err = p.runParallel(ctx, first, detectors)
	} else {
		err = p.runSequential(ctx, first, detectors[0])
	}
	if p.snap != nil {
		sum.Snapshots = p.snap.Written()
	}

	return sum, err
}

func (a *App) newDetectors(dict dictionary.Dictionary, cfg detector.Config) ([]detector.Detector, error) {
	n := a.cfg.Workers
	if n < 1 {
		n = 1
	}

	detectors := make([]detector.Detector, 0, n)
	for i := 0; i < n; i++ {
		d, err := a.deps.NewDetector(dict, cfg)
		if err != nil {
			for _, d := range detectors {
				d.Close()
			}
			return nil, fmt.Errorf("create detector: %w", err)
		}
		detectors = append(detectors, d)
	}
	return detectors, nil
}

func (a *App) openStore(dict dictionary.Dictionary) (*store.Store, string, error) {
	st, err := store.New(a.cfg.DBPath)
	if err != nil {
		return nil, "", fmt.Errorf("open store %s: %w", a.cfg.DBPath, err)
	}

	run := &store.Run{
		MediaPath:  a.cfg.MediaPath,
		Dictionary: string(dict.Name),
		MarkerSize: a.cfg.MarkerSize,
		Focal:      a.cfg.FocalMM,
		StartFrame: a.cfg.StartFrame,
		EndFrame:   a.cfg.EndFrame,
	}
	if err := st.Runs().Create(run); err != nil {
		st.Close()
		return nil, "", fmt.Errorf("create run: %w", err)
	}

	a.debugf("Recording run %s in %s", run.ID, a.cfg.DBPath)
	return st, run.ID, nil
}

// cameraFor builds the camera model from the first frame's dimensions.
func (a *App) cameraFor(width, height int, tuning *config.Tuning) (*camera.Model, error) {
	focal, err := a.cfg.FocalLength(width)
	if err != nil {
		return nil, err
	}
	cam, err := camera.New(focal, width, height)
	if err != nil {
		return nil, err
	}
	if tuning.HasDistortion() {
		cam = cam.WithDistortion(tuning.Distortion)
	}
	return cam, nil
}

func (a *App) debugf(format string, v ...any) {
	if a.cfg.Verbose {
		log.Printf(format, v...)
	}
}
