package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("transform", 150*time.Millisecond)
	pr.IncStageResult("transform", ResultSuccess)
	pr.ObserveHookDuration("transformer", "path", 10*time.Millisecond)
	pr.IncHookResult("transformer", "path", ResultFailed)
	pr.ObserveRunDuration(500 * time.Millisecond)
	pr.IncRunOutcome(RunOutcomeSuccess)
	pr.IncCacheLookup(true)
	pr.IncCacheLookup(false)
	pr.IncCacheLookup(false)
	pr.IncCacheEviction()
	pr.SetCacheEntries(3)
	pr.ObserveRenderDuration(time.Second, true)
	pr.IncUploadResult("local", true)
	pr.IncUploadRetry("smms")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	body := scrape(t, reg)
	assert.Contains(t, body, `imbed_cache_lookups_total{result="miss"} 2`)
	assert.Contains(t, body, `imbed_cache_evictions_total 1`)
	assert.Contains(t, body, `imbed_cache_entries 3`)
	assert.Contains(t, body, `imbed_hook_results_total{hook="path",registry="transformer",result="failed"} 1`)
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncCacheLookup(true)
		pr.ObserveStageDuration("upload", time.Second)
		pr.IncUploadResult("git", false)
	})
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncRunOutcome(RunOutcomeFailed)

	assert.Contains(t, scrape(t, reg), `imbed_run_outcomes_total{outcome="failed"} 1`)
}

func scrape(t *testing.T, reg *prom.Registry) string {
	t.Helper()
	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
