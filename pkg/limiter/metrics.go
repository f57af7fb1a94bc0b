package limiter

// MetricsRecorder receives counters and timings from the limiter.
// Tags always contain "handle" and "op", and "strategy" once options are
// resolved.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// Metric names emitted by the limiter.
const (
	MetricCall          = "throttle.call"
	MetricThrottled     = "throttle.throttled"
	MetricError         = "throttle.error"
	MetricCallbackError = "throttle.callback_error"
	MetricLatency       = "throttle.latency"
)

// NoOpMetricsRecorder discards everything. It is the default recorder.
type NoOpMetricsRecorder struct{}

func (NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}
