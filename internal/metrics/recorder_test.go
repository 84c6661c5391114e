package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.ObserveStageDuration("upload", time.Second)
		r.IncStageResult("upload", ResultSuccess)
		r.ObserveHookDuration("uploader", "local", time.Millisecond)
		r.IncHookResult("uploader", "local", ResultSkipped)
		r.ObserveRunDuration(time.Second)
		r.IncRunOutcome(RunOutcomeFailed)
		r.IncCacheLookup(false)
		r.IncCacheEviction()
		r.SetCacheEntries(0)
		r.ObserveRenderDuration(time.Second, false)
		r.IncUploadResult("local", true)
		r.IncUploadRetry("local")
	})
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopRecorder{}, OrNoop(nil))
	pr := NewPrometheusRecorder(nil)
	assert.Same(t, pr, OrNoop(pr))
}
