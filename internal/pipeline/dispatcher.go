package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// VisionAnalyzer produces structured content for one slide image.
// Errors should be wrapped with Retryable or Permanent when the class is known.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, imageLocator string) (*models.SlideContent, error)
}

// DispatchReport summarizes one Dispatcher.Run.
type DispatchReport struct {
	Total      int // slides in the checkpoint
	Resolved   int // slides that already had an outcome
	Attempted  int
	Succeeded  int
	Failed     int
	NotStarted int // pending slides left untouched by a stop signal
	Elapsed    time.Duration
}

// Stopped reports whether a stop signal left work unstarted.
func (r *DispatchReport) Stopped() bool {
	return r.NotStarted > 0
}

// Dispatcher analyzes every unresolved slide of a checkpoint with a bounded worker pool.
type Dispatcher struct {
	analyzer    VisionAnalyzer
	sink        OutcomeSink
	policy      RetryPolicy
	workers     int
	callTimeout time.Duration
	limiter     *rate.Limiter
	observers   []Observer
	logger      *slog.Logger
	now         func() time.Time
	progress    Progress
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the pool size.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) { d.workers = n }
}

// WithRetryPolicy sets the per-slide retry policy.
func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCallTimeout bounds each analyzer call. Zero disables the bound.
func WithCallTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.callTimeout = t }
}

// WithRateLimit caps analyzer calls per second across all workers. Zero disables it.
func WithRateLimit(perSecond float64) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithObserver registers an observer of completion events.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher builds a dispatcher; the default pool size is 5.
func NewDispatcher(analyzer VisionAnalyzer, sink OutcomeSink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		analyzer:    analyzer,
		sink:        sink,
		policy:      DefaultRetryPolicy(),
		workers:     5,
		callTimeout: 2 * time.Minute,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

// Workers returns the configured pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// Progress returns the counters of the current or last run.
func (d *Dispatcher) Progress() ProgressSnapshot {
	return d.progress.Snapshot()
}

// Run produces one outcome for every slide of cp that has none yet.
// Cancelling ctx stops new slides from starting; slides already in flight
// run to completion on a detached context and are still recorded.
// Only a sink failure is returned as an error.
func (d *Dispatcher) Run(ctx context.Context, cp *models.RunCheckpoint) (*DispatchReport, error) {
	start := time.Now()
	existing, err := d.sink.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load recorded outcomes: %w", err)
	}

	var pending []models.SlideRecord
	for _, s := range cp.Slides {
		if _, done := existing[s.ID()]; !done {
			pending = append(pending, s)
		}
	}
	report := &DispatchReport{
		Total:    len(cp.Slides),
		Resolved: len(cp.Slides) - len(pending),
	}
	d.progress.reset(len(pending))
	logCtx := d.logger.With("runId", cp.RunID, "workers", d.workers)
	logCtx.Info("Starting slide analysis.", "pending", len(pending), "alreadyResolved", report.Resolved)
	if len(pending) == 0 {
		report.Elapsed = time.Since(start)
		return report, nil
	}

	// feedCtx stops the feeder on caller cancellation or on a sink failure.
	feedCtx, stopFeeding := context.WithCancel(ctx)
	defer stopFeeding()
	unitCtx := context.WithoutCancel(ctx)

	work := make(chan models.SlideRecord)
	events := make(chan models.AnalysisOutcome, d.workers)

	fed := 0
	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		defer close(work)
		for _, s := range pending {
			select {
			case <-feedCtx.Done():
				return
			case work <- s:
				fed++
			}
		}
	}()

	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for s := range work {
				events <- d.analyzeSlide(unitCtx, s, logCtx)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(events)
	}()

	var sinkErr error
	for o := range events {
		report.Attempted++
		if sinkErr == nil {
			if err := d.sink.Append(unitCtx, o); err != nil {
				sinkErr = fmt.Errorf("failed to record outcome %s: %w", o.ID(), err)
				logCtx.Error("Outcome sink failed; no further slides will start.", "error", err)
				stopFeeding()
			}
		}
		if o.Succeeded() {
			report.Succeeded++
		} else {
			report.Failed++
		}
		d.progress.record(o)
		snap := d.progress.Snapshot()
		for _, obs := range d.observers {
			obs.OnOutcome(o, snap)
		}
	}
	<-feederDone

	report.NotStarted = len(pending) - fed
	report.Elapsed = time.Since(start)
	if report.Stopped() {
		logCtx.Warn("Slide analysis stopped before all slides started.", "notStarted", report.NotStarted)
	}
	logCtx.Info("Slide analysis finished.",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed.String(),
	)
	return report, sinkErr
}

// analyzeSlide runs one unit of work under the retry policy. It never
// returns an error: every failure becomes a failure outcome for the slide.
func (d *Dispatcher) analyzeSlide(ctx context.Context, s models.SlideRecord, logCtx *slog.Logger) models.AnalysisOutcome {
	slideLog := logCtx.With("ownerKey", s.OwnerKey, "slideNumber", s.SlideNumber)

	var content *models.SlideContent
	attempts, err := d.policy.Do(ctx, func(ctx context.Context) error {
		c, err := d.callAnalyzer(ctx, s.ImageLocator)
		if err != nil {
			if IsRetryable(err) {
				slideLog.Warn("Analysis attempt failed, will retry.", "error", err)
			}
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		slideLog.Error("Slide analysis failed.", "attempts", attempts, "error", err)
		return models.NewFailure(s, err.Error(), attempts, d.now().UTC())
	}
	slideLog.Debug("Slide analyzed.", "attempts", attempts)
	return models.NewSuccess(s, content, attempts, d.now().UTC())
}

func (d *Dispatcher) callAnalyzer(ctx context.Context, imageLocator string) (content *models.SlideContent, err error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, Retryable(err)
		}
	}
	callCtx := ctx
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			content, err = nil, Permanent(fmt.Errorf("analyzer panicked: %v", r))
		}
	}()

	content, err = d.analyzer.Analyze(callCtx, imageLocator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, Retryable(fmt.Errorf("analyzer call timed out: %w", err))
		}
		return nil, err
	}
	if content == nil {
		return nil, Permanent(errors.New("analyzer returned no content"))
	}
	return content, nil
}
