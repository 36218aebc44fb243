// Package metrics records bridge activity in memory and renders it in the
// Prometheus text exposition format.
package metrics

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
)

const namespace = "openbridge"

// Collector is the process-wide registry.
var Collector = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindHistogram kind = "histogram"
)

// family is every series sharing one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // labels -> *Counter or *Histogram
}

// Registry owns metric families. Series are created on first use and live
// for the lifetime of the registry.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram counts observations into cumulative buckets. The last bound is
// always +Inf.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name and labels, creating it on first use.
// labels is the rendered label set without braces, e.g. `kind="input"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.series(name, help, labels, kindCounter, func() any {
		return &Counter{}
	}).(*Counter)
}

// Histogram returns the histogram for name and labels, creating it with the
// given upper bounds on first use.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return r.series(name, help, labels, kindHistogram, func() any {
		bs := slices.Clone(bounds)
		slices.Sort(bs)
		if len(bs) == 0 || !math.IsInf(bs[len(bs)-1], 1) {
			bs = append(bs, math.Inf(1))
		}
		return &Histogram{bounds: bs, counts: make([]int64, len(bs))}
	}).(*Histogram)
}

// series panics when name is already registered with a different kind.
func (r *Registry) series(name, help, labels string, k kind, create func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s is a %s, not a %s", name, f.kind, k))
	}
	if s, ok := f.series[labels]; ok {
		return s
	}
	s := create()
	f.series[labels] = s
	return s
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	}
}

// WriteTo renders every family sorted by name, series sorted by labels.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	r.mu.Lock()
	for _, name := range slices.Sorted(maps.Keys(r.families)) {
		f := r.families[name]
		fmt.Fprintf(&buf, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&buf, "# TYPE %s %s\n", f.name, f.kind)
		for _, labels := range slices.Sorted(maps.Keys(f.series)) {
			switch m := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&buf, "%s %d\n", seriesName(f.name, labels), m.Value())
			case *Histogram:
				m.writeTo(&buf, f.name, labels)
			}
		}
	}
	r.mu.Unlock()

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (h *Histogram) writeTo(buf *bytes.Buffer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, le := range h.bounds {
		bound := "+Inf"
		if !math.IsInf(le, 1) {
			bound = strconv.FormatFloat(le, 'g', -1, 64)
		}
		fmt.Fprintf(buf, "%s %d\n", seriesName(name+"_bucket", joinLabels(labels, `le="`+bound+`"`)), h.counts[i])
	}
	fmt.Fprintf(buf, "%s %d\n", seriesName(name+"_count", labels), h.count)
	fmt.Fprintf(buf, "%s %s\n", seriesName(name+"_sum", labels), strconv.FormatFloat(h.sum, 'f', -1, 64))
}

func seriesName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}
