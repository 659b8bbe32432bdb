// Package metrics exposes a hand-rolled Prometheus text-format endpoint,
// adapted from the teacher's internal/metrics.go, renamed to the gateway's
// own counters per spec §10's supplemented metrics surface.
package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds every counter/gauge the gateway exposes. All fields are
// guarded by mu; callers use the Observe*/Set* methods rather than mutating
// maps directly.
type Registry struct {
	mu sync.RWMutex

	flowsActive    int64
	flowsTotal     uint64
	bytesUpTotal   uint64
	bytesDownTotal uint64

	dialFailuresTotal map[string]uint64
	dnsQueriesTotal   map[string]uint64
	flowOverflowTotal uint64

	probeDurationSum   float64
	probeDurationCount uint64
}

// NewRegistry creates an empty Registry ready to record observations.
func NewRegistry() *Registry {
	return &Registry{
		dialFailuresTotal: make(map[string]uint64),
		dnsQueriesTotal:   make(map[string]uint64),
	}
}

func (r *Registry) SetFlowsActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowsActive = int64(n)
}

func (r *Registry) IncFlowsTotal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowsTotal++
}

func (r *Registry) AddBytesUp(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesUpTotal += uint64(n)
}

func (r *Registry) AddBytesDown(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesDownTotal += uint64(n)
}

func (r *Registry) IncDialFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialFailuresTotal[reason]++
}

func (r *Registry) IncDNSQuery(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dnsQueriesTotal[result]++
}

func (r *Registry) IncFlowOverflow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowOverflowTotal++
}

func (r *Registry) ObserveProbeDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeDurationSum += d.Seconds()
	r.probeDurationCount++
}

// Serve starts the metrics HTTP server, shutting down when ctx is done,
// matching the teacher's StartMetricsServer lifecycle.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("metrics: empty listen address")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", r.handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}

// Expose renders the current exposition-format text, for tests and tools
// that want the body without standing up an HTTP server.
func Expose(r *Registry) string {
	var buf bytes.Buffer
	r.writeExposition(&buf)
	return buf.String()
}

func (r *Registry) handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	r.writeExposition(w)
}

func (r *Registry) writeExposition(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fmt.Fprintf(w, "gateway_flows_active %d\n", r.flowsActive)
	fmt.Fprintf(w, "gateway_flows_total %d\n", r.flowsTotal)
	fmt.Fprintf(w, "gateway_bytes_up_total %d\n", r.bytesUpTotal)
	fmt.Fprintf(w, "gateway_bytes_down_total %d\n", r.bytesDownTotal)
	fmt.Fprintf(w, "gateway_flow_overflow_total %d\n", r.flowOverflowTotal)

	writeCounterVec(w, "gateway_proxy_dial_failures_total", r.dialFailuresTotal, "reason")
	writeCounterVec(w, "gateway_dns_queries_total", r.dnsQueriesTotal, "result")

	fmt.Fprintf(w, "gateway_health_probe_duration_seconds_count %d\n", r.probeDurationCount)
	fmt.Fprintf(w, "gateway_health_probe_duration_seconds_sum %f\n", r.probeDurationSum)
}

func writeCounterVec(w io.Writer, name string, data map[string]uint64, label string) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, data[k])
	}
}
