package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(a VisionAnalyzer, sink OutcomeSink, opts ...DispatcherOption) *Dispatcher {
	opts = append([]DispatcherOption{
		WithRetryPolicy(fastPolicy(3)),
		WithDispatchLogger(quietLogger()),
	}, opts...)
	return NewDispatcher(a, sink, opts...)
}

// everyThirdFails rejects slide numbers divisible by three.
func everyThirdFails() *funcAnalyzer {
	return newFuncAnalyzer(func(_ context.Context, image string, _ int) (*models.SlideContent, error) {
		name := strings.TrimSuffix(path.Base(image), ".png")
		n, err := strconv.Atoi(name[strings.LastIndex(name, "_")+1:])
		if err == nil && n%3 == 0 {
			return nil, Permanent(errors.New("content refused"))
		}
		return &models.SlideContent{Title: image}, nil
	})
}

func outcomeStatuses(outcomes map[string]models.AnalysisOutcome) map[string]string {
	out := make(map[string]string, len(outcomes))
	for id, o := range outcomes {
		out[id] = o.Status
	}
	return out
}

func TestDispatcher_SameOutcomesForAnyPoolSize(t *testing.T) {
	var baseline map[string]string
	for _, workers := range []int{1, 5, 20} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			cp := checkpointWithSlides(map[string]int{"a_d0": 7, "b_d0": 5})
			sink := newMemSink()
			d := newTestDispatcher(everyThirdFails(), sink, WithWorkers(workers))

			report, err := d.Run(context.Background(), cp)
			require.NoError(t, err)
			assert.Equal(t, 12, report.Total)
			assert.Equal(t, 12, report.Attempted)
			assert.Equal(t, 3, report.Failed)
			assert.Equal(t, 9, report.Succeeded)
			assert.False(t, report.Stopped())

			got, _ := sink.Load(context.Background())
			statuses := outcomeStatuses(got)
			if baseline == nil {
				baseline = statuses
				return
			}
			assert.Equal(t, baseline, statuses)
		})
	}
}

func TestDispatcher_OnlyUnresolvedSlidesRun(t *testing.T) {
	cp := checkpointWithSlides(map[string]int{"a_d0": 4})
	sink := newMemSink()
	at := time.Now().UTC()
	require.NoError(t, sink.Append(context.Background(), models.NewSuccess(cp.Slides[0], &models.SlideContent{}, 1, at)))
	require.NoError(t, sink.Append(context.Background(), models.NewFailure(cp.Slides[1], "earlier", 3, at)))

	a := okAnalyzer()
	report, err := newTestDispatcher(a, sink).Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Resolved)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, a.total())
	assert.Equal(t, 4, sink.len())

	again, err := newTestDispatcher(a, sink).Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Attempted)
	assert.Equal(t, 2, a.total())
}

func TestDispatcher_EmptyCheckpoint(t *testing.T) {
	a := okAnalyzer()
	report, err := newTestDispatcher(a, newMemSink()).Run(context.Background(), models.NewRunCheckpoint("r"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0, report.Attempted)
	assert.Equal(t, 0, a.total())
}

func TestDispatcher_RetriesTransientErrors(t *testing.T) {
	a := newFuncAnalyzer(func(_ context.Context, image string, call int) (*models.SlideContent, error) {
		if call < 3 {
			return nil, Retryable(errors.New("429 resource exhausted"))
		}
		return &models.SlideContent{Title: image}, nil
	})
	sink := newMemSink()
	cp := checkpointWithSlides(map[string]int{"a_d0": 1})

	report, err := newTestDispatcher(a, sink).Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	got, _ := sink.Load(context.Background())
	assert.Equal(t, 3, got["a_d0#0001"].Attempts)
}

func TestDispatcher_ExhaustedRetriesBecomeFailure(t *testing.T) {
	a := newFuncAnalyzer(func(context.Context, string, int) (*models.SlideContent, error) {
		return nil, errors.New("connection reset")
	})
	sink := newMemSink()
	cp := checkpointWithSlides(map[string]int{"a_d0": 2})

	report, err := newTestDispatcher(a, sink).Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 6, a.total())
	got, _ := sink.Load(context.Background())
	o := got["a_d0#0002"]
	assert.Equal(t, models.OutcomeFailure, o.Status)
	assert.Equal(t, 3, o.Failure.Attempts)
	assert.Contains(t, o.Failure.Reason, "connection reset")
	assert.Nil(t, o.Content)
}

func TestDispatcher_CallTimeoutIsRetried(t *testing.T) {
	a := newFuncAnalyzer(func(ctx context.Context, _ string, _ int) (*models.SlideContent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	sink := newMemSink()
	cp := checkpointWithSlides(map[string]int{"a_d0": 1})
	d := newTestDispatcher(a, sink, WithRetryPolicy(fastPolicy(2)), WithCallTimeout(10*time.Millisecond))

	report, err := d.Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, a.total())
	got, _ := sink.Load(context.Background())
	assert.Contains(t, got["a_d0#0001"].Failure.Reason, "timed out")
}

func TestDispatcher_PanicBecomesFailure(t *testing.T) {
	a := newFuncAnalyzer(func(_ context.Context, image string, _ int) (*models.SlideContent, error) {
		if image == "a_d0/2.png" {
			panic("boom")
		}
		return &models.SlideContent{}, nil
	})
	sink := newMemSink()
	cp := checkpointWithSlides(map[string]int{"a_d0": 3})

	report, err := newTestDispatcher(a, sink).Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	got, _ := sink.Load(context.Background())
	assert.Equal(t, 1, got["a_d0#0002"].Attempts)
	assert.Contains(t, got["a_d0#0002"].Failure.Reason, "panicked")
}

func TestDispatcher_NilContentIsPermanent(t *testing.T) {
	a := newFuncAnalyzer(func(context.Context, string, int) (*models.SlideContent, error) {
		return nil, nil
	})
	sink := newMemSink()
	report, err := newTestDispatcher(a, sink).Run(context.Background(), checkpointWithSlides(map[string]int{"a_d0": 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, a.total())
}

func TestDispatcher_StopLeavesUnstartedSlidesPending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	a := newFuncAnalyzer(func(ctx context.Context, image string, _ int) (*models.SlideContent, error) {
		once.Do(func() { close(started) })
		<-release
		return &models.SlideContent{Title: image}, nil
	})
	sink := newMemSink()
	cp := checkpointWithSlides(map[string]int{"a_d0": 10})
	d := newTestDispatcher(a, sink, WithWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		report *DispatchReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := d.Run(ctx, cp)
		done <- result{r, err}
	}()

	<-started
	cancel()
	// Give the feeder a moment to observe the stop before the worker frees up.
	time.Sleep(20 * time.Millisecond)
	close(release)
	res := <-done

	require.NoError(t, res.err)
	assert.True(t, res.report.Stopped())
	assert.Equal(t, 1, res.report.Attempted)
	assert.Equal(t, 1, res.report.Succeeded)
	assert.Equal(t, 9, res.report.NotStarted)
	// The in-flight slide finished and was recorded despite the stop.
	assert.Equal(t, 1, sink.len())
}

func TestDispatcher_SinkFailureIsFatal(t *testing.T) {
	sink := newMemSink()
	sink.failAfter = 2
	cp := checkpointWithSlides(map[string]int{"a_d0": 20})

	report, err := newTestDispatcher(okAnalyzer(), sink, WithWorkers(2)).Run(context.Background(), cp)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	require.NotNil(t, report)
	assert.Equal(t, 2, sink.len())
}

func TestDispatcher_ObserverSeesEveryOutcome(t *testing.T) {
	var snapshots []ProgressSnapshot
	obs := ObserverFunc(func(_ models.AnalysisOutcome, p ProgressSnapshot) {
		snapshots = append(snapshots, p)
	})
	cp := checkpointWithSlides(map[string]int{"a_d0": 6})
	d := newTestDispatcher(everyThirdFails(), newMemSink(), WithWorkers(3), WithObserver(obs))

	_, err := d.Run(context.Background(), cp)
	require.NoError(t, err)
	require.Len(t, snapshots, 6)
	for i, s := range snapshots {
		assert.Equal(t, int64(6), s.Total)
		assert.Equal(t, int64(i+1), s.Completed)
	}
	final := d.Progress()
	assert.Equal(t, int64(0), final.Remaining())
	assert.Equal(t, int64(4), final.Succeeded)
	assert.Equal(t, int64(2), final.Failed)
}

func TestDispatcher_RateLimit(t *testing.T) {
	cp := checkpointWithSlides(map[string]int{"a_d0": 3})
	a := okAnalyzer()
	d := newTestDispatcher(a, newMemSink(), WithWorkers(3), WithRateLimit(1000))

	report, err := d.Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 3, a.total())
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(okAnalyzer(), newMemSink(), WithWorkers(0))
	assert.Equal(t, 1, d.Workers())
	assert.Equal(t, 5, NewDispatcher(okAnalyzer(), newMemSink()).Workers())
}
