// Package telemetry provides metrics for the simulation platform using only
// standard library constructs: counters, gauges, and duration histograms with
// a Prometheus text exposition endpoint, without importing a metrics SDK.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Value exceeds all boundaries; counted in +Inf at export.
	h.mu.Unlock()
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// defaultDurationBuckets are the histogram bucket boundaries in seconds used
// for HTTP request duration. Snapshot and launch requests replay full
// datasets, so the upper buckets are generous.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// Provider manages all metrics state for the server.
type Provider struct {
	serviceName string

	counters    *counterStore
	httpHist    map[string]*histogram // keyed by method|route|status
	restoreHist *histogram            // restore duration in seconds
	histMu      sync.RWMutex
}

// NewProvider creates a metrics provider. serviceName labels the exported
// build info metric.
func NewProvider(serviceName string) *Provider {
	if serviceName == "" {
		serviceName = "haccare-server"
	}
	return &Provider{
		serviceName: serviceName,
		counters:    newCounterStore(),
		httpHist:    make(map[string]*histogram),
		restoreHist: newHistogram(defaultDurationBuckets),
	}
}

// Counter keys. Exported names follow Prometheus conventions.
const (
	MetricSnapshotsCaptured   = "sim_snapshots_captured_total"
	MetricRowsCaptured        = "sim_rows_captured_total"
	MetricSimulationsLaunched = "sim_simulations_launched_total"
	MetricRowsRestored        = "sim_rows_restored_total"
	MetricRestoreWarnings     = "sim_restore_warnings_total"
	MetricResets              = "sim_resets_total"
	MetricIdentitySets        = "sim_identity_sets_generated_total"
)

// Inc increments a named counter by one.
func (p *Provider) Inc(name string) {
	p.counters.add(name, 1)
}

// Add increments a named counter by delta.
func (p *Provider) Add(name string, delta int64) {
	p.counters.add(name, delta)
}

// CounterValue returns the current value of a named counter.
func (p *Provider) CounterValue(name string) int64 {
	return p.counters.get(name)
}

// ObserveRestoreDuration records how long a restore (launch or reset
// replay) took.
func (p *Provider) ObserveRestoreDuration(d time.Duration) {
	p.restoreHist.Observe(d.Seconds())
}

func (p *Provider) httpHistogram(method, route, status string) *histogram {
	key := method + "|" + route + "|" + status
	p.histMu.RLock()
	h, ok := p.httpHist[key]
	p.histMu.RUnlock()
	if ok {
		return h
	}
	p.histMu.Lock()
	defer p.histMu.Unlock()
	if h, ok := p.httpHist[key]; ok {
		return h
	}
	h = newHistogram(defaultDurationBuckets)
	p.httpHist[key] = h
	return h
}

// Middleware returns echo middleware that records request counts and
// durations per method, route, and status code.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			method := c.Request().Method
			code := strconv.Itoa(status)

			p.counters.add("http_requests_total{method="+method+",route="+route+",status="+code+"}", 1)
			p.httpHistogram(method, route, code).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler returns an echo handler that renders all metrics in Prometheus
// text exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# TYPE build_info gauge\n")
		fmt.Fprintf(&b, "build_info{service=%q} 1\n", p.serviceName)

		counters := p.counters.snapshot()
		names := make([]string, 0, len(counters))
		for k := range counters {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(&b, "%s %d\n", k, counters[k])
		}

		writeHistogram(&b, "sim_restore_duration_seconds", "", p.restoreHist)

		p.histMu.RLock()
		histKeys := make([]string, 0, len(p.httpHist))
		for k := range p.httpHist {
			histKeys = append(histKeys, k)
		}
		sort.Strings(histKeys)
		for _, k := range histKeys {
			parts := strings.SplitN(k, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_request_duration_seconds", labels, p.httpHist[k])
		}
		p.histMu.RUnlock()

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	for i, bound := range h.boundaries {
		if labels != "" {
			fmt.Fprintf(b, "%s_bucket{%s,le=%q} %d\n", name, labels, formatBound(bound), cum[i])
		} else {
			fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, formatBound(bound), cum[i])
		}
	}
	if labels != "" {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
		fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
	} else {
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, h.Count())
		fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
		fmt.Fprintf(b, "%s_count %d\n", name, h.Count())
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
