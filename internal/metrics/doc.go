// Package metrics exposes download instrumentation.
//
// Components accept a Recorder. NoopRecorder is the default; PrometheusRecorder
// registers collectors on a Prometheus registry which Handler can serve.
package metrics
