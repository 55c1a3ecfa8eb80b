// Package metrics registers in-process counters and gauges with
// rcrowley/go-metrics, the library the teacher's own metrics package wraps
// (see node/sc/bridge_tx_pool.go's refusedTxCounter). There is no HTTP
// exporter here: that surface belongs to the excluded Prometheus-exporter
// product, but the registry itself is cheap ambient instrumentation any
// caller can read back (a CLI diagnostic, a future exporter) without this
// package knowing about them.
package metrics

import "github.com/rcrowley/go-metrics"

// Counter is the subset of metrics.Counter this package exposes to callers,
// so a test can assert on Count() without importing rcrowley/go-metrics
// itself.
type Counter interface {
	Inc(int64)
	Count() int64
}

// Gauge is the subset of metrics.Gauge this package exposes.
type Gauge interface {
	Update(int64)
	Value() int64
}

// NewRegisteredCounter registers (or returns the existing) named counter in
// the default registry, mirroring metrics.NewRegisteredCounter.
func NewRegisteredCounter(name string) Counter {
	return metrics.GetOrRegisterCounter(name, metrics.DefaultRegistry)
}

// NewRegisteredGauge registers (or returns the existing) named gauge in the
// default registry.
func NewRegisteredGauge(name string) Gauge {
	return metrics.GetOrRegisterGauge(name, metrics.DefaultRegistry)
}

// Snapshot returns a point-in-time name->value map of every registered
// counter and gauge, for a CLI diagnostic or health endpoint to print.
func Snapshot() map[string]int64 {
	out := make(map[string]int64)
	metrics.DefaultRegistry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		}
	})
	return out
}
