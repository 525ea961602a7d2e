// Package metrics exports refresh progress as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/refresh"
)

const namespace = "marketrefresh"

// Recorder implements refresh.Recorder using Prometheus.
// Each Recorder owns its registry.
type Recorder struct {
	registry *prometheus.Registry

	outcomes      *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	batchDuration *prometheus.HistogramVec
	lastTotal     *prometheus.GaugeVec
	lastFailed    *prometheus.GaugeVec
	lastRecords   *prometheus.GaugeVec
	lastDuration  *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec
	retries       *prometheus.CounterVec
}

var _ refresh.Recorder = (*Recorder)(nil)

// New creates a Recorder with Go runtime and process collectors registered
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_outcomes_total",
			Help:      "Entity outcomes by data kind and status",
		}, []string{"kind", "status"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_entities",
			Help:      "Entities per dispatched batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}, []string{"kind"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to complete one batch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		lastTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_entities",
			Help:      "Entities processed by the last run of a kind",
		}, []string{"kind"}),
		lastFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed_entities",
			Help:      "Failed entities in the last run of a kind",
		}, []string{"kind"}),
		lastRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_records",
			Help:      "Records written by the last run of a kind",
		}, []string{"kind"}),
		lastDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last run of a kind",
		}, []string{"kind"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run of a kind finished",
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "Upstream request retries by upstream and error type",
		}, []string{"upstream", "type"}),
	}

	reg.MustRegister(
		r.outcomes, r.batchSize, r.batchDuration,
		r.lastTotal, r.lastFailed, r.lastRecords, r.lastDuration, r.lastSuccess,
		r.retries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RecordOutcome implements refresh.Recorder
func (r *Recorder) RecordOutcome(kind refresh.Kind, status refresh.Status) {
	r.outcomes.WithLabelValues(string(kind), status.String()).Inc()
}

// RecordBatch implements refresh.Recorder
func (r *Recorder) RecordBatch(kind refresh.Kind, size int, d time.Duration) {
	r.batchSize.WithLabelValues(string(kind)).Observe(float64(size))
	r.batchDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// RecordResult implements refresh.Recorder
func (r *Recorder) RecordResult(res refresh.Result) {
	k := string(res.Kind)
	r.lastTotal.WithLabelValues(k).Set(float64(res.Total))
	r.lastFailed.WithLabelValues(k).Set(float64(res.Failed))
	r.lastRecords.WithLabelValues(k).Set(float64(res.RecordsCreated))
	r.lastDuration.WithLabelValues(k).Set(res.Duration.Seconds())
	r.lastSuccess.WithLabelValues(k).SetToCurrentTime()
}

// RetryHook returns a fetcher retry hook counting retries against upstream
func (r *Recorder) RetryHook(upstream string) fetcher.RetryHook {
	return func(_ int, _ time.Duration, err error) {
		r.retries.WithLabelValues(upstream, string(fetcher.TypeOf(err))).Inc()
	}
}

// Registry returns the recorder's registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Push sends the current metrics to a Pushgateway, replacing the job's group
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
