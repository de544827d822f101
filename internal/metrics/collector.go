// Package metrics keeps RelayBot's operational counters and renders them in
// the Prometheus text exposition format. The protocol is simple enough that
// pulling in client_golang buys nothing here, so samples are tracked with
// atomics and printed by hand.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry every metric hangs off.
var Collector = NewRegistry()

// Registry holds named counters, gauges and histograms.
type Registry struct {
	counters   sync.Map // metricKey -> *Counter
	gauges     sync.Map // metricKey -> *Gauge
	histograms sync.Map // metricKey -> *Histogram
	started    time.Time
}

func NewRegistry() *Registry {
	return &Registry{started: time.Now()}
}

// Uptime reports how long this registry, in practice the process, has lived.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.started)
}

func metricKey(name, labels string) string {
	return name + "|" + labels
}

// meta is the identity shared by every metric kind.
type meta struct {
	name   string
	help   string
	labels string
}

// Counter only ever counts up.
type Counter struct {
	meta
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge tracks a level that moves both ways.
type Gauge struct {
	meta
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram accumulates observations into cumulative le-buckets.
type Histogram struct {
	meta
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe folds one sample into every bucket it fits under.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter registers name/labels once and hands back the same instance on
// every later call.
func (r *Registry) Counter(name, help, labels string) *Counter {
	got, _ := r.counters.LoadOrStore(metricKey(name, labels),
		&Counter{meta: meta{name: name, help: help, labels: labels}})
	return got.(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	got, _ := r.gauges.LoadOrStore(metricKey(name, labels),
		&Gauge{meta: meta{name: name, help: help, labels: labels}})
	return got.(*Gauge)
}

// Histogram registers a histogram with the given bucket bounds. A trailing
// +Inf bucket is added when missing so bucket counts line up with _count.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	key := metricKey(name, labels)
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}

	bounds = slices.Clone(bounds)
	slices.Sort(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	buckets := make([]histBucket, len(bounds))
	for i, le := range bounds {
		buckets[i] = histBucket{le: le}
	}

	h := &Histogram{meta: meta{name: name, help: help, labels: labels}, buckets: buckets}
	got, _ := r.histograms.LoadOrStore(key, h)
	return got.(*Histogram)
}

// Handler serves the registry as text/plain, exposition format 0.0.4.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.exposition())
	}
}

func (r *Registry) exposition() string {
	var b strings.Builder

	header(&b, "relaybot_uptime_seconds", "Seconds since the process came up", "gauge")
	fmt.Fprintf(&b, "relaybot_uptime_seconds %d\n\n", int64(r.Uptime().Seconds()))

	announced := map[string]bool{}
	r.counters.Range(func(_, v any) bool {
		v.(*Counter).emit(&b, announced)
		return true
	})
	r.gauges.Range(func(_, v any) bool {
		v.(*Gauge).emit(&b, announced)
		return true
	})
	r.histograms.Range(func(_, v any) bool {
		v.(*Histogram).emit(&b)
		return true
	})

	return b.String()
}

func header(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

// announce writes HELP/TYPE once per metric name; label variants of the same
// name share one header.
func (m meta) announce(b *strings.Builder, announced map[string]bool, kind string) {
	if announced[m.name] {
		return
	}
	announced[m.name] = true
	header(b, m.name, m.help, kind)
}

func (m meta) sample(b *strings.Builder, suffix, value string) {
	if m.labels != "" {
		fmt.Fprintf(b, "%s%s{%s} %s\n", m.name, suffix, m.labels, value)
		return
	}
	fmt.Fprintf(b, "%s%s %s\n", m.name, suffix, value)
}

func (m meta) bucketSample(b *strings.Builder, le string, n int64) {
	if m.labels != "" {
		fmt.Fprintf(b, "%s_bucket{%s,le=%q} %d\n", m.name, m.labels, le, n)
		return
	}
	fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", m.name, le, n)
}

func (c *Counter) emit(b *strings.Builder, announced map[string]bool) {
	c.announce(b, announced, "counter")
	c.sample(b, "", strconv.FormatInt(c.Value(), 10))
}

func (g *Gauge) emit(b *strings.Builder, announced map[string]bool) {
	g.announce(b, announced, "gauge")
	g.sample(b, "", strconv.FormatInt(g.Value(), 10))
}

func (h *Histogram) emit(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	header(b, h.name, h.help, "histogram")
	for _, bk := range h.buckets {
		le := "+Inf"
		if !math.IsInf(bk.le, 1) {
			le = strconv.FormatFloat(bk.le, 'g', -1, 64)
		}
		h.bucketSample(b, le, bk.count)
	}
	h.sample(b, "_count", strconv.FormatInt(h.count, 10))
	h.sample(b, "_sum", strconv.FormatFloat(h.sum, 'f', 6, 64))
}

// Metrics the rest of the process records into.
var (
	MessagesTotal      = Collector.Counter("relaybot_messages_total", "Total inbound messages processed", "")
	CommandsTotal      = Collector.Counter("relaybot_commands_total", "Total commands dispatched", "")
	GenerationRequests = Collector.Counter("relaybot_generation_requests_total", "Total generation engine requests", "")
	FetchFallbacks     = Collector.Counter("relaybot_fetch_fallbacks_total", "Total fetches served from fallback data", "")
	ForwardsTotal      = Collector.Counter("relaybot_forwards_total", "Total messages forwarded between services", "")
	WorkflowRuns       = Collector.Counter("relaybot_workflow_runs_total", "Total workflow runner executions", "")
	ActiveWorkflows    = Collector.Gauge("relaybot_active_workflows", "Currently active workflows", "")

	GenerationLatency = Collector.Histogram("relaybot_generation_latency_seconds", "Generation request latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120})
	SendLatency = Collector.Histogram("relaybot_send_latency_seconds", "Adapter send latency in seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
)
