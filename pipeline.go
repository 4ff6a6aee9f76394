package visage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/esimov/visage/cascade"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options configures a Pipeline.
type Options struct {
	// Engine is the face detection engine. Nil selects the embedded cascade.
	Engine cascade.Classifier
	Params cascade.Params
	// Estimator defaults to PlaceholderEstimator.
	Estimator AttributeEstimator
	Style     Style
	// Remover is the shared background removal session. Pipelines built
	// from the same cache share one session.
	Remover                  *SessionCache
	BackgroundRemovalEnabled bool
	// Workers bounds the concurrent attribute estimations. Zero picks the
	// number of logical CPUs.
	Workers int
	Logger  logrus.FieldLogger
	// OnStateChange is called on every state transition of every run. It
	// must be safe for concurrent use when runs overlap.
	OnStateChange func(State)
}

// DefaultOptions returns the default detection parameters and style, the
// placeholder estimator and background removal enabled. No remover is set.
func DefaultOptions() Options {
	return Options{
		Params:                   cascade.DefaultParams(),
		Estimator:                PlaceholderEstimator{},
		Style:                    DefaultStyle(),
		BackgroundRemovalEnabled: true,
	}
}

// Result is the outcome of a pipeline run. The pipeline keeps no reference to it.
type Result struct {
	Original  image.Image
	Annotated *image.NRGBA
	// Foreground is nil when background removal was skipped or failed.
	Foreground image.Image
	FaceCount  int
	// Faces are in detection order, one per detected region.
	Faces    []Face
	Notes    []Note
	Duration time.Duration
}

// Pipeline runs detection, attribute estimation, annotation and background
// removal over single images. It is safe for concurrent use.
type Pipeline struct {
	detector       *Detector
	estimator      AttributeEstimator
	annotator      *Annotator
	remover        *SessionCache
	removalEnabled bool
	workers        int
	log            logrus.FieldLogger
	onState        func(State)
}

// NewPipeline validates opts and builds a Pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	detector, err := NewDetector(opts.Engine, opts.Params)
	if err != nil {
		return nil, err
	}
	annotator, err := NewAnnotator(opts.Style)
	if err != nil {
		return nil, err
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", opts.Workers)
	}

	p := &Pipeline{
		detector:       detector,
		estimator:      opts.Estimator,
		annotator:      annotator,
		remover:        opts.Remover,
		removalEnabled: opts.BackgroundRemovalEnabled,
		workers:        opts.Workers,
		log:            opts.Logger,
		onState:        opts.OnStateChange,
	}
	if p.estimator == nil {
		p.estimator = PlaceholderEstimator{}
	}
	if p.workers == 0 {
		p.workers = defaultWorkers()
	}
	if p.log == nil {
		p.log = discardLogger()
	}
	return p, nil
}

// defaultWorkers returns the number of logical CPUs.
func defaultWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Detector returns the detector used by the pipeline.
func (p *Pipeline) Detector() *Detector {
	return p.detector
}

// Annotator returns the annotator used by the pipeline.
func (p *Pipeline) Annotator() *Annotator {
	return p.annotator
}

// run carries the state of a single pipeline run.
type run struct {
	*Pipeline
	log     logrus.FieldLogger
	state   State
	notes   []Note
	observe func(State)
}

func (r *run) enter(s State) {
	r.state = s
	r.log.WithField("stage", s).Debug("entering stage")
	if r.onState != nil {
		r.onState(s)
	}
	if r.observe != nil {
		r.observe(s)
	}
}

func (r *run) note(format string, args ...any) {
	n := Note{Stage: r.state, Message: fmt.Sprintf(format, args...)}
	r.notes = append(r.notes, n)
	r.log.WithField("stage", r.state).Warn(n.Message)
}

// Run analyzes img. Only an invalid image, a detection engine failure or
// ctx cancellation return an error; every other failure is recorded as a
// note on the result. Background removal runs concurrently with detection,
// estimation and annotation, and is joined before the result is returned.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Result, error) {
	return p.run(ctx, img, nil)
}

// run executes one analysis; observe, if set, is notified of the state
// transitions of this run only.
func (p *Pipeline) run(ctx context.Context, img image.Image, observe func(State)) (*Result, error) {
	r := &run{
		Pipeline: p,
		log:      p.log.WithField("run", uuid.NewString()),
		state:    Idle,
		observe:  observe,
	}
	start := time.Now()

	r.enter(Detecting)
	if err := p.detector.Validate(img); err != nil {
		r.enter(Failed)
		r.log.WithError(err).Error("cannot analyze image")
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	join := r.startRemoval(ctx, img)

	regions, err := p.detector.Detect(img)
	if err != nil {
		cancel()
		join()
		r.enter(Failed)
		r.log.WithError(err).Error("face detection failed")
		return nil, err
	}
	r.log.WithField("faces", len(regions)).Debug("face detection finished")
	if err := ctx.Err(); err != nil {
		join()
		return nil, err
	}

	r.enter(Estimating)
	src := imgToNRGBA(img)
	faces, err := r.estimate(ctx, src, regions)
	if err != nil {
		cancel()
		join()
		return nil, err
	}

	r.enter(Annotating)
	annotated, err := p.annotator.Annotate(src, faces)
	if err != nil {
		cancel()
		join()
		return nil, fmt.Errorf("annotation: %w", err)
	}

	r.enter(RemovingBackground)
	fg, err := join()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.enter(Done)
	res := &Result{
		Original:   img,
		Annotated:  annotated,
		Foreground: fg,
		FaceCount:  len(faces),
		Faces:      faces,
		Notes:      r.notes,
		Duration:   time.Since(start),
	}
	r.log.WithFields(logrus.Fields{
		"faces":      res.FaceCount,
		"foreground": res.Foreground != nil,
		"notes":      len(res.Notes),
		"duration":   res.Duration,
	}).Info("image analyzed")
	return res, nil
}

// estimate runs the estimator over every region with at most p.workers
// concurrent calls. The returned faces keep the order of regions. Only ctx
// cancellation is reported as an error.
func (r *run) estimate(ctx context.Context, src *image.NRGBA, regions []FaceRegion) ([]Face, error) {
	faces := make([]Face, len(regions))
	failures := make([]error, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, region := range regions {
		i, region := i, region
		faces[i].Region = region
		g.Go(func() error {
			est, err := r.estimator.Estimate(gctx, cropRegion(src, region))
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				est = UnknownEstimate
			} else if !est.Known() {
				failures[i] = fmt.Errorf("%w: incomplete estimate %+v", ErrEstimationUnavailable, est)
				est = UnknownEstimate
			}
			faces[i].Estimate = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, err := range failures {
		if err != nil {
			r.note("face %d at %v labelled unknown: %v", i, regions[i], err)
		}
	}
	return faces, nil
}

// startRemoval launches the background removal branch and returns the
// function joining it. The join reports ctx cancellation only; removal
// failures become notes and a nil foreground.
func (r *run) startRemoval(ctx context.Context, img image.Image) func() (image.Image, error) {
	switch {
	case !r.removalEnabled:
		return func() (image.Image, error) {
			r.note("background removal skipped: disabled by configuration")
			return nil, nil
		}
	case r.remover == nil:
		return func() (image.Image, error) {
			r.note("background removal skipped: %v: no remover configured", ErrRemoverUnavailable)
			return nil, nil
		}
	}

	var (
		g   errgroup.Group
		fg  image.Image
		err error
	)
	g.Go(func() error {
		fg, err = r.remover.Remove(ctx, img)
		return nil
	})

	var joined bool
	return func() (image.Image, error) {
		g.Wait()
		if joined {
			return fg, nil
		}
		joined = true
		switch {
		case err == nil:
			return fg, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrRemoverUnavailable):
			r.note("background removal skipped: %v", err)
		default:
			r.note("background removal failed: %v", err)
		}
		return nil, nil
	}
}
