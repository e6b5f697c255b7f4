// Package stats keeps run-level counters. Workers increment them with
// atomic adds; the same values are exported as Prometheus metrics and
// stored as the run summary.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter names a run counter.
type Counter string

const (
	Candidates     Counter = "candidates"
	InjectFailures Counter = "inject_failures"
	Executions     Counter = "executions"
	Matches        Counter = "matches"
	Mismatches     Counter = "mismatches"
	Inconclusive   Counter = "inconclusive"
	Noise          Counter = "noise"
	Stability      Counter = "stability_findings"
	Timeouts       Counter = "timeouts"
	Crashes        Counter = "crashes"
	Confirmed      Counter = "bugs_confirmed"
	Discarded      Counter = "nondeterminism_discards"
	WorkerHalts    Counter = "worker_halts"
)

// Counters lists every counter in export order.
func Counters() []Counter {
	return []Counter{
		Candidates, InjectFailures, Executions, Matches, Mismatches, Inconclusive,
		Noise, Stability, Timeouts, Crashes, Confirmed, Discarded, WorkerHalts,
	}
}

const namespace = "zenddiff"

// Stats is safe for concurrent use.
type Stats struct {
	counters map[Counter]*atomic.Int64
	descs    map[Counter]*prometheus.Desc
	duration prometheus.Histogram
	registry *prometheus.Registry
}

// New creates zeroed counters registered on a private registry.
func New() *Stats {
	s := &Stats{
		counters: make(map[Counter]*atomic.Int64),
		descs:    make(map[Counter]*prometheus.Desc),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Wall-clock duration of one interpreter execution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		registry: prometheus.NewRegistry(),
	}
	for _, c := range Counters() {
		s.counters[c] = new(atomic.Int64)
		s.descs[c] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", string(c)+"_total"),
			"Run counter "+string(c)+".",
			nil, nil,
		)
	}
	s.registry.MustRegister(s, s.duration)
	return s
}

// Inc adds one to c.
func (s *Stats) Inc(c Counter) {
	s.Add(c, 1)
}

// Add adds n to c. Unknown counters panic.
func (s *Stats) Add(c Counter, n int64) {
	s.counters[c].Add(n)
}

// Get returns the current value of c.
func (s *Stats) Get(c Counter) int64 {
	return s.counters[c].Load()
}

// ObserveExecution records one execution's duration.
func (s *Stats) ObserveExecution(d time.Duration) {
	s.Inc(Executions)
	s.duration.Observe(d.Seconds())
}

// Snapshot returns all counters by name.
func (s *Stats) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(s.counters))
	for c, v := range s.counters {
		out[string(c)] = v.Load()
	}
	return out
}

// Summary renders the non-zero counters as slog attributes in export order.
func (s *Stats) Summary() []any {
	var attrs []any
	for _, c := range Counters() {
		if v := s.Get(c); v != 0 {
			attrs = append(attrs, slog.Int64(string(c), v))
		}
	}
	return attrs
}

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range Counters() {
		ch <- s.descs[c]
	}
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	for _, c := range Counters() {
		ch <- prometheus.MustNewConstMetric(s.descs[c], prometheus.CounterValue, float64(s.Get(c)))
	}
}

// Handler serves the metrics in the Prometheus text format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (s *Stats) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Names returns the counter names sorted, for stable text output.
func Names(snapshot map[string]int64) []string {
	names := make([]string, 0, len(snapshot))
	for n := range snapshot {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
