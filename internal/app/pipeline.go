package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/fidtrack/internal/camera"
	"github.com/ayusman/fidtrack/internal/capture"
	"github.com/ayusman/fidtrack/internal/config"
	"github.com/ayusman/fidtrack/internal/detector"
	"github.com/ayusman/fidtrack/internal/emitter"
	"github.com/ayusman/fidtrack/internal/marker"
	"github.com/ayusman/fidtrack/internal/overlay"
	"github.com/ayusman/fidtrack/internal/pose"
)

// pipeline holds the per-run state shared by the sequential and parallel
// runners. cam and est are read-only once setup returns.
type pipeline struct {
	app    *App
	reader *capture.Reader
	sink   emitter.Sink
	cam    *camera.Model
	est    *pose.Estimator
	snap   *overlay.Writer
	sum    *Summary
}

// analyzed is a frame together with its record, ready to emit.
type analyzed struct {
	frame    capture.Frame
	record   marker.FrameRecord
	omitted  int
	rejected int
}

// setup builds the camera model and everything that depends on it from
// the first frame.
func (p *pipeline) setup(first capture.Frame, tuning *config.Tuning) error {
	cam, err := p.app.cameraFor(first.Width, first.Height, tuning)
	if err != nil {
		return err
	}
	est, err := pose.New(cam, p.app.cfg.MarkerSize)
	if err != nil {
		return err
	}
	p.cam = cam
	p.est = est

	if opts, ok := p.app.cfg.OverlayOptions(); ok {
		snap, err := overlay.New(opts, cam, p.app.cfg.MarkerSize)
		if err != nil {
			return err
		}
		p.snap = snap
	}

	p.app.debugf("Camera %dx%d, focal %.3f px", cam.Width, cam.Height, cam.Fx)
	return nil
}

// next reads the following frame and checks it against the camera model.
func (p *pipeline) next() (capture.Frame, error) {
	p.app.setState(Reading)
	f, err := p.reader.Next()
	if err != nil {
		return f, err
	}
	if err := p.cam.CheckFrame(f.Width, f.Height); err != nil {
		f.Close()
		return capture.Frame{}, fmt.Errorf("frame %d: %w", f.Index, err)
	}
	return f, nil
}

// analyze detects markers in f and solves each marker's pose
// independently. Markers whose pose cannot be solved are left out of the
// record.
func (p *pipeline) analyze(det detector.Detector, f capture.Frame) (analyzed, error) {
	p.app.setState(Detecting)
	res, err := det.Detect(f.Mat)
	if err != nil {
		return analyzed{}, fmt.Errorf("detect frame %d: %w", f.Index, err)
	}

	p.app.setState(Estimating)
	out := analyzed{
		frame:    f,
		record:   marker.FrameRecord{FrameID: f.Index},
		rejected: len(res.Rejected),
	}
	for _, r := range p.est.EstimateAll(res.Markers) {
		if !r.OK() {
			out.omitted++
			p.app.debugf("Frame %d: marker %d omitted: %v", f.Index, r.Observation.ID, r.Err)
			continue
		}
		out.record.Detections = append(out.record.Detections, r.Detection())
	}

	return out, nil
}

// emit writes one record, saves a snapshot if due and releases the frame.
func (p *pipeline) emit(a analyzed) error {
	defer a.frame.Close()

	p.app.setState(Emitting)
	if err := p.sink.Emit(a.record); err != nil {
		return fmt.Errorf("emit frame %d: %w", a.record.FrameID, err)
	}

	p.sum.Frames++
	p.sum.Markers += len(a.record.Detections)
	p.sum.Omitted += a.omitted
	p.sum.Rejected += a.rejected

	if p.snap != nil && p.snap.Wants(a.record.FrameID) {
		if _, err := p.snap.Write(a.frame.Mat, a.record); err != nil {
			return fmt.Errorf("snapshot frame %d: %w", a.record.FrameID, err)
		}
	}

	return nil
}

// runSequential processes one frame at a time in stream order.
func (p *pipeline) runSequential(ctx context.Context, first capture.Frame, det detector.Detector) error {
	f := first
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return err
		}

		a, err := p.analyze(det, f)
		if err != nil {
			f.Close()
			return err
		}
		if err := p.emit(a); err != nil {
			return err
		}

		f, err = p.next()
		if err != nil {
			return ignoreEOF(err)
		}
	}
}

// runParallel decodes on one goroutine, analyzes on one goroutine per
// detector and re-sequences results so records leave in frame order. At
// most 2*len(detectors) frames are in flight.
func (p *pipeline) runParallel(ctx context.Context, first capture.Frame, detectors []detector.Detector) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	jobs := make(chan capture.Frame)
	results := make(chan analyzed)
	slots := make(chan struct{}, 2*len(detectors))

	g.Go(func() error {
		defer close(jobs)

		f := first
		for {
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				f.Close()
				return ctx.Err()
			}
			select {
			case jobs <- f:
			case <-gctx.Done():
				f.Close()
				return ctx.Err()
			}

			var err error
			f, err = p.next()
			if err != nil {
				return ignoreEOF(err)
			}
		}
	})

	var workers sync.WaitGroup
	for _, det := range detectors {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for f := range jobs {
				a, err := p.analyze(det, f)
				if err != nil {
					f.Close()
					return err
				}
				select {
				case results <- a:
				case <-gctx.Done():
					a.frame.Close()
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		pending := make(map[int]analyzed)
		defer func() {
			// The reader may be waiting for a slot that is never released.
			stop()
			for _, a := range pending {
				a.frame.Close()
			}
			// Release anything still queued so workers can exit.
			for a := range results {
				a.frame.Close()
			}
		}()

		next := first.Index
		for a := range results {
			pending[a.frame.Index] = a
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := p.emit(ready); err != nil {
					return err
				}
				<-slots
				next++
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d frames were never emitted", len(pending))
		}
		return nil
	})

	return g.Wait()
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
