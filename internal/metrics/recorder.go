package metrics

import "time"

// OutcomeLabel enumerates terminal per-file outcomes.
type OutcomeLabel string

const (
	OutcomeSkipped    OutcomeLabel = "skipped"
	OutcomeDownloaded OutcomeLabel = "downloaded"
	OutcomeResumed    OutcomeLabel = "resumed"
	OutcomeFailed     OutcomeLabel = "failed"
)

// Recorder defines observability hooks for the download engine. All methods
// must be safe for concurrent use.
type Recorder interface {
	IncFileOutcome(outcome OutcomeLabel)
	AddBytes(n int64)
	IncRetry(kind string)
	ObserveFetchDuration(d time.Duration, success bool)
	SetInFlight(n int)
	ObserveRunDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncFileOutcome(OutcomeLabel)              {}
func (NoopRecorder) AddBytes(int64)                           {}
func (NoopRecorder) IncRetry(string)                          {}
func (NoopRecorder) ObserveFetchDuration(time.Duration, bool) {}
func (NoopRecorder) SetInFlight(int)                          {}
func (NoopRecorder) ObserveRunDuration(time.Duration)         {}
