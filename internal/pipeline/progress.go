package pipeline

import (
	"sync/atomic"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// ProgressSnapshot is a point-in-time view of a dispatch.
type ProgressSnapshot struct {
	Total     int64
	Completed int64
	Succeeded int64
	Failed    int64
}

// Remaining is the number of pending units not yet completed.
func (s ProgressSnapshot) Remaining() int64 {
	return s.Total - s.Completed
}

// Progress counts completion events. It is safe to read while a dispatch runs.
type Progress struct {
	total     atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func (p *Progress) reset(total int) {
	p.total.Store(int64(total))
	p.completed.Store(0)
	p.succeeded.Store(0)
	p.failed.Store(0)
}

func (p *Progress) record(o models.AnalysisOutcome) {
	if o.Succeeded() {
		p.succeeded.Add(1)
	} else {
		p.failed.Add(1)
	}
	p.completed.Add(1)
}

// Snapshot reads the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Total:     p.total.Load(),
		Completed: p.completed.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}

// Observer is notified of every recorded outcome, always from the collector goroutine.
type Observer interface {
	OnOutcome(outcome models.AnalysisOutcome, progress ProgressSnapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(outcome models.AnalysisOutcome, progress ProgressSnapshot)

func (f ObserverFunc) OnOutcome(outcome models.AnalysisOutcome, progress ProgressSnapshot) {
	f(outcome, progress)
}
