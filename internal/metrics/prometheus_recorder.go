package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "imbed"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration  *prom.HistogramVec
	stageResults   *prom.CounterVec
	hookDuration   *prom.HistogramVec
	hookResults    *prom.CounterVec
	runDuration    prom.Histogram
	runOutcome     *prom.CounterVec
	cacheLookups   *prom.CounterVec
	cacheEvictions prom.Counter
	cacheEntries   prom.Gauge
	renderDuration *prom.HistogramVec
	uploadResults  *prom.CounterVec
	uploadRetries  *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		hookDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Duration of individual hook executions",
			Buckets:   prom.DefBuckets,
		}, []string{"registry", "hook"}),
		hookResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hook_results_total",
			Help:      "Hook execution counts by outcome",
		}, []string{"registry", "hook", "result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Pipeline runs by final status",
		}, []string{"outcome"}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Render cache lookups by hit or miss",
		}, []string{"result"}),
		cacheEvictions: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Render cache entries evicted by capacity pressure",
		}),
		cacheEntries: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Render cache entries currently indexed",
		}),
		renderDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of external render program executions",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
		uploadResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "upload_results_total",
			Help:      "Artifact uploads by uploader and outcome",
		}, []string{"uploader", "result"}),
		uploadRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "upload_retries_total",
			Help:      "Upload attempts retried after transient failures",
		}, []string{"uploader"}),
	}
	reg.MustRegister(
		pr.stageDuration, pr.stageResults, pr.hookDuration, pr.hookResults,
		pr.runDuration, pr.runOutcome, pr.cacheLookups, pr.cacheEvictions,
		pr.cacheEntries, pr.renderDuration, pr.uploadResults, pr.uploadRetries,
	)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveHookDuration(registry, hook string, d time.Duration) {
	if p == nil {
		return
	}
	p.hookDuration.WithLabelValues(registry, hook).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncHookResult(registry, hook string, result ResultLabel) {
	if p == nil {
		return
	}
	p.hookResults.WithLabelValues(registry, hook, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome RunOutcomeLabel) {
	if p == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncCacheLookup(hit bool) {
	if p == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheLookups.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncCacheEviction() {
	if p == nil {
		return
	}
	p.cacheEvictions.Inc()
}

func (p *PrometheusRecorder) SetCacheEntries(n int) {
	if p == nil {
		return
	}
	p.cacheEntries.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRenderDuration(d time.Duration, success bool) {
	if p == nil {
		return
	}
	p.renderDuration.WithLabelValues(successLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUploadResult(uploader string, success bool) {
	if p == nil {
		return
	}
	p.uploadResults.WithLabelValues(uploader, successLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncUploadRetry(uploader string) {
	if p == nil {
		return
	}
	p.uploadRetries.WithLabelValues(uploader).Inc()
}
