// Package metrics provides the daemon's metrics facade: a nil-safe
// interface that costs nothing when metrics are disabled, backed by a
// Prometheus implementation registered from the prometheus subpackage.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dtnd/internal/logger"
)

// DaemonMetrics is the instrumentation surface the bundle daemon drives.
// A nil DaemonMetrics means metrics are disabled; callers guard with a
// nil check (zero overhead on the hot path).
type DaemonMetrics interface {
	// EventProcessed records one event handled by a processor.
	EventProcessed(processor, eventType string, seconds float64)
	// QueueDepth sets a processor queue's current depth.
	QueueDepth(processor string, depth int)
	// LinkQueue sets a link's send-queue gauges.
	LinkQueue(link string, bundles int, bytes uint64)
	// LinkInflight sets a link's in-flight gauges.
	LinkInflight(link string, bundles int, bytes uint64)
	// CustodyTimers sets the live custody-timer count.
	CustodyTimers(count int)
	// ACSBatch observes the size of one emitted aggregate custody signal.
	ACSBatch(size int)
	// StoreTotalSize sets the bundle store's reserved payload total.
	StoreTotalSize(bytes uint64)
	// BundlesPending sets the pending-bundles gauge.
	BundlesPending(count int)
}

var (
	mu       sync.Mutex
	registry *prometheus.Registry

	// newDaemonMetrics is installed by the prometheus subpackage's init;
	// the indirection keeps this package free of a dependency on its own
	// implementation.
	newDaemonMetrics func() DaemonMetrics
)

// InitRegistry enables metrics collection. Call once at startup, before
// NewDaemonMetrics.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// GetRegistry returns the active registry; nil when disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// RegisterDaemonMetricsConstructor installs the Prometheus-backed
// constructor; called by the prometheus subpackage during package
// initialization.
func RegisterDaemonMetricsConstructor(constructor func() DaemonMetrics) {
	mu.Lock()
	defer mu.Unlock()
	newDaemonMetrics = constructor
}

// NewDaemonMetrics returns the Prometheus-backed DaemonMetrics, or nil
// when metrics are disabled (callers then skip instrumentation
// entirely).
func NewDaemonMetrics() DaemonMetrics {
	mu.Lock()
	ctor := newDaemonMetrics
	enabled := registry != nil
	mu.Unlock()
	if !enabled || ctor == nil {
		return nil
	}
	return ctor()
}

// StartServer serves the /metrics endpoint on port until ctx is
// cancelled.
func StartServer(ctx context.Context, port int) *http.Server {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}
