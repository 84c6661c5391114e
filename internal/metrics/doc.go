// Package metrics provides the observability hooks of the imbed pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never needs nil checks at call sites:
//
//	lc := pipeline.New(pipeline.Options{Recorder: metrics.NoopRecorder{}})
//
// The watch daemon swaps in a PrometheusRecorder and serves it through
// HTTPHandler when a metrics address is configured.
package metrics
