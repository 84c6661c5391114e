package metrics

import "time"

// ResultLabel enumerates stage and hook result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultSkipped ResultLabel = "skipped"
	ResultFailed  ResultLabel = "failed"
)

// RunOutcomeLabel is the final status of a pipeline run.
type RunOutcomeLabel string

const (
	RunOutcomeSuccess RunOutcomeLabel = "success"
	RunOutcomeFailed  RunOutcomeLabel = "failed"
)

// Recorder defines observability hooks for pipeline, cache and upload
// metrics. Implementations may forward to Prometheus.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveHookDuration(registry, hook string, d time.Duration)
	IncHookResult(registry, hook string, result ResultLabel)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome RunOutcomeLabel)
	IncCacheLookup(hit bool)
	IncCacheEviction()
	SetCacheEntries(n int)
	ObserveRenderDuration(d time.Duration, success bool)
	IncUploadResult(uploader string, success bool)
	IncUploadRetry(uploader string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)        {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                {}
func (NoopRecorder) ObserveHookDuration(string, string, time.Duration) {}
func (NoopRecorder) IncHookResult(string, string, ResultLabel)         {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                  {}
func (NoopRecorder) IncRunOutcome(RunOutcomeLabel)                     {}
func (NoopRecorder) IncCacheLookup(bool)                               {}
func (NoopRecorder) IncCacheEviction()                                 {}
func (NoopRecorder) SetCacheEntries(int)                               {}
func (NoopRecorder) ObserveRenderDuration(time.Duration, bool)         {}
func (NoopRecorder) IncUploadResult(string, bool)                      {}
func (NoopRecorder) IncUploadRetry(string)                             {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

func successLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
