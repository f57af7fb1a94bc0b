// Package metrics exports limiter metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manenim/throttler/pkg/limiter"
)

var labels = []string{"handle", "strategy", "op"}

// Recorder implements limiter.MetricsRecorder on top of Prometheus
// collectors. Tags missing from a sample are exported as empty labels.
type Recorder struct {
	calls          *prometheus.CounterVec
	throttled      *prometheus.CounterVec
	errors         *prometheus.CounterVec
	callbackErrors *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

var _ limiter.MetricsRecorder = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg. An empty
// namespace defaults to "throttle".
func NewRecorder(reg prometheus.Registerer, namespace string) (*Recorder, error) {
	if reg == nil {
		return nil, errors.New("metrics: registerer cannot be nil")
	}
	if namespace == "" {
		namespace = "throttle"
	}

	r := &Recorder{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Limiter operations that reached the store.",
		}, labels),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Calls rejected because the handle was at its threshold.",
		}, labels),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Limiter operations that failed with a configuration or store error.",
		}, labels),
		callbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_errors_total",
			Help:      "Before-throttle callbacks that returned an error.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Limiter operation latency in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, labels),
	}

	for _, c := range []prometheus.Collector{r.calls, r.throttled, r.errors, r.callbackErrors, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) Add(name string, value float64, tags map[string]string) {
	var vec *prometheus.CounterVec
	switch name {
	case limiter.MetricCall:
		vec = r.calls
	case limiter.MetricThrottled:
		vec = r.throttled
	case limiter.MetricError:
		vec = r.errors
	case limiter.MetricCallbackError:
		vec = r.callbackErrors
	default:
		return
	}
	vec.WithLabelValues(labelValues(tags)...).Add(value)
}

func (r *Recorder) Observe(name string, value float64, tags map[string]string) {
	if name != limiter.MetricLatency {
		return
	}
	r.latency.WithLabelValues(labelValues(tags)...).Observe(value)
}

func labelValues(tags map[string]string) []string {
	return []string{tags["handle"], tags["strategy"], tags["op"]}
}
