package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hfslurp"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	fileOutcomes  *prom.CounterVec
	bytes         prom.Counter
	retries       *prom.CounterVec
	fetchDuration *prom.HistogramVec
	inFlight      prom.Gauge
	runDuration   prom.Histogram
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		fileOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files processed by terminal outcome",
		}, []string{"outcome"}),
		bytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_fetched_total",
			Help:      "Bytes written to disk from remote responses",
		}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch retries by error kind",
		}, []string{"kind"}),
		fetchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single fetch attempts",
			Buckets:   prom.ExponentialBuckets(0.05, 4, 10),
		}, []string{"result"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_in_flight",
			Help:      "Workers currently fetching a file",
		}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total duration of scheduler runs",
			Buckets:   prom.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(pr.fileOutcomes, pr.bytes, pr.retries, pr.fetchDuration, pr.inFlight, pr.runDuration)
	return pr
}

func (p *PrometheusRecorder) IncFileOutcome(outcome OutcomeLabel) {
	if p == nil {
		return
	}
	p.fileOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddBytes(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.bytes.Add(float64(n))
}

func (p *PrometheusRecorder) IncRetry(kind string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) ObserveFetchDuration(d time.Duration, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.fetchDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetInFlight(n int) {
	if p == nil {
		return
	}
	p.inFlight.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

// Handler returns an http.Handler that serves metrics gathered from reg.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
