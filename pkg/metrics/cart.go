package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// CartMetrics records cart engine, product cache, and snapshot activity.
type CartMetrics struct {
	duration       *prometheus.HistogramVec
	success        *prometheus.CounterVec
	failure        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	snapshotErrors *prometheus.CounterVec
	lines          prometheus.Gauge
	items          prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_operation_duration_seconds",
		Help:    "Duration of cart engine operations in seconds, remote round trip included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operation_success_total",
		Help: "Cart operations reconciled with the remote cart.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operation_failure_total",
		Help: "Cart operations that failed and left local state untouched.",
	}, []string{"operation", "code"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "product_cache_lookups_total",
		Help: "Product lookups served by the cache, by result.",
	}, []string{"result"})
	snapshotErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_snapshot_errors_total",
		Help: "Persisted snapshot failures, by action.",
	}, []string{"action"})
	lines := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_lines",
		Help: "Lines in the current cart.",
	})
	items := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_items",
		Help: "Sum of line quantities in the current cart.",
	})
	reg.MustRegister(duration, success, failure, cacheLookups, snapshotErrors, lines, items)
	return &CartMetrics{
		duration:       duration,
		success:        success,
		failure:        failure,
		cacheLookups:   cacheLookups,
		snapshotErrors: snapshotErrors,
		lines:          lines,
		items:          items,
	}
}

// ObserveDuration records the duration for the named operation.
func (c *CartMetrics) ObserveDuration(op string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named operation.
func (c *CartMetrics) IncSuccess(op string) {
	if c == nil || c.success == nil {
		return
	}
	c.success.WithLabelValues(normalizeLabel(op)).Inc()
}

// IncFailure increments the failure counter for the named operation and error code.
func (c *CartMetrics) IncFailure(op, code string) {
	if c == nil || c.failure == nil {
		return
	}
	c.failure.WithLabelValues(normalizeLabel(op), normalizeLabel(code)).Inc()
}

// IncCacheLookup counts a product cache hit or miss.
func (c *CartMetrics) IncCacheLookup(result string) {
	if c == nil || c.cacheLookups == nil {
		return
	}
	c.cacheLookups.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncSnapshotError counts a failed snapshot load/save/delete.
func (c *CartMetrics) IncSnapshotError(action string) {
	if c == nil || c.snapshotErrors == nil {
		return
	}
	c.snapshotErrors.WithLabelValues(normalizeLabel(action)).Inc()
}

// SetCartSize publishes the current line and item counts.
func (c *CartMetrics) SetCartSize(lines, items int) {
	if c == nil || c.lines == nil {
		return
	}
	c.lines.Set(float64(lines))
	c.items.Set(float64(items))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
