package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the small counter/histogram interface every instrumented
// component depends on (SPEC_FULL.md §A "Metrics"), matching the teacher's
// service.WithMetrics option shape. Call sites never touch otel directly.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// NoopMetrics discards everything; used by tests and by components built
// without a Metrics dependency.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)                 {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// OTelMetrics forwards counters/histograms to the process's global otel
// MeterProvider (set up by InitOTel) for OTLP export, and additionally
// keeps an in-process snapshot so GET /metrics (spec §6.1) can render a
// Prometheus-text response without depending on an otel Prometheus exporter
// (not present in this module's dependency set — see DESIGN.md).
type OTelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram

	snapMu sync.Mutex
	counts map[string]float64
	hists  map[string]histSnapshot
}

type histSnapshot struct {
	Count int64
	Sum   float64
}

// NewOTelMetrics builds a Metrics backed by otel.Meter("sinew").
func NewOTelMetrics() *OTelMetrics {
	return &OTelMetrics{
		meter:      otel.Meter("sinew"),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		counts:     make(map[string]float64),
		hists:      make(map[string]histSnapshot),
	}
}

func labelKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, ",%s=%s", k, labels[k])
	}
	return b.String()
}

func attrsOf(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}

func (m *OTelMetrics) IncCounter(name string, labels map[string]string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err == nil {
			m.counters[name] = c
		}
	}
	m.mu.Unlock()
	if c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(attrsOf(labels)...))
	}

	key := labelKey(name, labels)
	m.snapMu.Lock()
	m.counts[key]++
	m.snapMu.Unlock()
}

func (m *OTelMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err == nil {
			m.histograms[name] = h
		}
	}
	m.mu.Unlock()
	if h != nil {
		h.Record(context.Background(), value, metric.WithAttributes(attrsOf(labels)...))
	}

	key := labelKey(name, labels)
	m.snapMu.Lock()
	s := m.hists[key]
	s.Count++
	s.Sum += value
	m.hists[key] = s
	m.snapMu.Unlock()
}

// RenderPrometheus renders the in-process snapshot as Prometheus text
// exposition format for GET /metrics.
func (m *OTelMetrics) RenderPrometheus() string {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	var b strings.Builder
	keys := make([]string, 0, len(m.counts))
	for k := range m.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %g\n", metricName(k), m.counts[k])
	}

	keys = keys[:0]
	for k := range m.hists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := m.hists[k]
		base := metricName(k)
		fmt.Fprintf(&b, "%s_count %d\n", base, s.Count)
		fmt.Fprintf(&b, "%s_sum %g\n", base, s.Sum)
	}
	return b.String()
}

// metricName returns a labelKey's bare metric name (strips the ",k=v"
// suffix); the name is not otherwise rewritten.
func metricName(key string) string {
	if i := strings.IndexByte(key, ','); i >= 0 {
		return key[:i]
	}
	return key
}
