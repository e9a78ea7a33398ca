package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/metrics"
	"mcq-autopilot/internal/resolver"
	"mcq-autopilot/pkg/logging/logging"
)

type Capturer interface {
	CaptureRegion(ctx context.Context) (image.Image, error)
}

type Extractor interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
}

type Resolver interface {
	ResolveDetailed(ctx context.Context, q mcq.Question) resolver.Resolution
}

// Dispatcher performs the UI action that selects an option.
type Dispatcher interface {
	ActivateOption(ctx context.Context, letter mcq.Letter) error
	TapAt(ctx context.Context, x, y int) error
}

// Point is a screen coordinate in device pixels. Negative means unset.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) Valid() bool { return p.X >= 0 && p.Y >= 0 }

type DispatchConfig struct {
	// UseCoordinateTapping taps TapPoints instead of searching the UI tree.
	UseCoordinateTapping bool
	TapPoints            map[mcq.Letter]Point
}

// TapPoint returns the configured point for letter.
func (c DispatchConfig) TapPoint(letter mcq.Letter) (Point, bool) {
	p, ok := c.TapPoints[letter]
	if !ok || !p.Valid() {
		return Point{}, false
	}
	return p, true
}

// Timing is how long one stage took.
type Timing struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Run describes one pipeline invocation.
type Run struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stage      Stage           `json:"stage"`
	Question   *mcq.Question   `json:"question,omitempty"`
	Answer     mcq.Letter      `json:"answer,omitempty"`
	Source     resolver.Source `json:"source,omitempty"`
	Timings    []Timing        `json:"timings"`
	Err        error           `json:"-"`
	Error      string          `json:"error,omitempty"`
	// RawText is the OCR text that could not be parsed, cut to maxRawText runes.
	RawText string `json:"raw_text,omitempty"`
}

const maxRawText = 2000

var errNotConfigured = errors.New("not configured")

// Orchestrator runs capture, extract, parse, resolve and dispatch in order.
// Only one run is in flight at a time; start requests made while a run is
// in progress are ignored.
type Orchestrator struct {
	capturer   Capturer
	extractor  Extractor
	resolver   Resolver
	dispatcher Dispatcher
	dispatch   DispatchConfig
	sink       StatusSink
	newID      func() string

	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	stage  Stage
	status Status
	last   *Run
}

type Option func(*Orchestrator)

// WithStatusSink registers fn for visible status changes.
func WithStatusSink(fn StatusSink) Option {
	return func(o *Orchestrator) { o.sink = fn }
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func New(c Capturer, e Extractor, r Resolver, d Dispatcher, dispatch DispatchConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		capturer:   c,
		extractor:  e,
		resolver:   r,
		dispatcher: d,
		dispatch:   dispatch,
		newID:      uuid.NewString,
		stage:      StageIdle,
		status:     StatusIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stage returns the stage of the run in progress, or StageIdle.
func (o *Orchestrator) Stage() Stage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stage
}

// Status returns the visible status. After a run it stays success or error
// until the next run starts.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// LastRun returns a copy of the most recently finished run.
func (o *Orchestrator) LastRun() (Run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Run{}, false
	}
	return *o.last, true
}

// Busy reports whether a run is in progress.
func (o *Orchestrator) Busy() bool { return o.running.Load() }

// RunOnce executes a run synchronously. It returns false without doing
// anything when another run is in progress.
func (o *Orchestrator) RunOnce(ctx context.Context) (Run, bool) {
	if !o.claim(ctx) {
		return Run{}, false
	}
	defer o.running.Store(false)
	return o.execute(ctx, o.newID()), true
}

// Trigger starts a run in the background and returns its id. The run is
// detached from ctx cancellation but keeps its values. Returns false when
// another run is in progress.
func (o *Orchestrator) Trigger(ctx context.Context) (string, bool) {
	if !o.claim(ctx) {
		return "", false
	}
	id := o.newID()
	ctx = context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.running.Store(false)
		o.execute(ctx, id)
	}()
	return id, true
}

// Wait blocks until background runs have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) claim(ctx context.Context) bool {
	if !o.running.CompareAndSwap(false, true) {
		metrics.PipelineRunsTotal.WithLabelValues("ignored").Inc()
		logging.L(ctx).Info("pipeline_start_ignored", zap.String("stage", o.Stage().String()))
		return false
	}
	return true
}

func (o *Orchestrator) execute(ctx context.Context, id string) (run Run) {
	run = Run{ID: id, StartedAt: time.Now()}
	ctx = logging.WithFields(ctx, zap.String("run_id", id))
	logging.L(ctx).Info("pipeline_started")

	defer func() {
		if p := recover(); p != nil {
			o.finish(ctx, &run, stageErr(o.Stage(), fmt.Errorf("panic: %v", p), nil))
		}
	}()

	o.finish(ctx, &run, o.stages(ctx, &run))
	return run
}

func (o *Orchestrator) stages(ctx context.Context, run *Run) error {
	var (
		img  image.Image
		text string
		q    mcq.Question
	)

	err := o.step(ctx, run, StageCapturing, func() (err error) {
		if o.capturer == nil {
			return stageErr(StageCapturing, ErrCapture, errNotConfigured)
		}
		if img, err = o.capturer.CaptureRegion(ctx); err != nil {
			return stageErr(StageCapturing, ErrCapture, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, run, StageExtracting, func() (err error) {
		if o.extractor == nil {
			return stageErr(StageExtracting, ErrExtraction, errNotConfigured)
		}
		if text, err = o.extractor.ExtractText(ctx, img); err != nil {
			return stageErr(StageExtracting, ErrExtraction, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, run, StageParsing, func() (err error) {
		if q, err = mcq.Parse(text); err != nil {
			logging.L(ctx).Warn("question_not_parsable", zap.String("text", text))
			return stageErr(StageParsing, mcq.ErrNotParsable, err)
		}
		run.Question = &q
		return nil
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, run, StageResolving, func() error {
		if o.resolver == nil {
			return stageErr(StageResolving, errNotConfigured, nil)
		}
		res := o.resolver.ResolveDetailed(ctx, q)
		if !res.Letter.Valid() {
			return stageErr(StageResolving, fmt.Errorf("invalid answer %q", res.Letter), nil)
		}
		run.Answer, run.Source = res.Letter, res.Source
		return nil
	})
	if err != nil {
		return err
	}

	return o.step(ctx, run, StageDispatching, func() error {
		return o.dispatchLetter(ctx, run.Answer)
	})
}

func (o *Orchestrator) dispatchLetter(ctx context.Context, letter mcq.Letter) error {
	if o.dispatch.UseCoordinateTapping {
		return o.TapOption(ctx, letter)
	}
	if o.dispatcher == nil {
		return stageErr(StageDispatching, ErrDispatch, errNotConfigured)
	}
	if err := o.dispatcher.ActivateOption(ctx, letter); err != nil {
		return stageErr(StageDispatching, ErrDispatch, err)
	}
	return nil
}

// TapOption taps the configured point for letter. It is used by coordinate
// dispatch and by manual option taps.
func (o *Orchestrator) TapOption(ctx context.Context, letter mcq.Letter) error {
	p, ok := o.dispatch.TapPoint(letter)
	if !ok {
		return stageErr(StageDispatching, ErrDispatch, fmt.Errorf("%w for %s", ErrNoTapPoint, letter))
	}
	if o.dispatcher == nil {
		return stageErr(StageDispatching, ErrDispatch, errNotConfigured)
	}
	if err := o.dispatcher.TapAt(ctx, p.X, p.Y); err != nil {
		return stageErr(StageDispatching, ErrDispatch, err)
	}
	logging.L(ctx).Info("option_tapped",
		zap.String("letter", letter.String()),
		zap.Int("x", p.X),
		zap.Int("y", p.Y),
	)
	return nil
}

func (o *Orchestrator) step(ctx context.Context, run *Run, stage Stage, fn func() error) error {
	o.setStage(stage)
	start := time.Now()
	err := fn()
	took := time.Since(start)

	run.Timings = append(run.Timings, Timing{Stage: stage, Duration: took})
	metrics.StageLatencySeconds.WithLabelValues(stage.String()).Observe(took.Seconds())
	logging.L(ctx).Debug("pipeline_stage",
		zap.String("stage", stage.String()),
		zap.Duration("took", took),
		zap.Error(err),
	)
	return err
}

func (o *Orchestrator) finish(ctx context.Context, run *Run, err error) {
	run.FinishedAt = time.Now()
	run.Stage = StageSuccess
	if err != nil {
		run.Stage = StageError
		run.Err = err
		run.Error = err.Error()
		var pe *mcq.ParseError
		if errors.As(err, &pe) {
			run.RawText = truncateRunes(pe.Raw, maxRawText)
		}
	}

	o.setStage(run.Stage)
	metrics.PipelineRunsTotal.WithLabelValues(run.Stage.String()).Inc()

	fields := []zap.Field{
		zap.String("outcome", run.Stage.String()),
		zap.String("answer", run.Answer.String()),
		zap.String("source", string(run.Source)),
		zap.Duration("total", run.FinishedAt.Sub(run.StartedAt)),
	}
	if run.RawText != "" {
		fields = append(fields, zap.String("raw_text", run.RawText))
	}
	if err != nil {
		logging.L(ctx).Error("pipeline_finished", append(fields, zap.Error(err))...)
	} else {
		logging.L(ctx).Info("pipeline_finished", fields...)
	}

	o.mu.Lock()
	last := *run
	o.last = &last
	o.mu.Unlock()

	o.setStage(StageIdle)
}

// setStage records stage and notifies the sink when the visible status
// changes. Returning to idle keeps the terminal status visible.
func (o *Orchestrator) setStage(stage Stage) {
	status := stage.Status()

	o.mu.Lock()
	o.stage = stage
	changed := status != StatusIdle && status != o.status
	if changed {
		o.status = status
	}
	o.mu.Unlock()

	if changed && o.sink != nil {
		o.sink(status)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
