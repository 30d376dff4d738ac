// Package metrics implements Prometheus metrics collection for the context
// engine on a private registry, with optional HTTP exposition.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/contextfs/contextfs/internal/config"
)

// Collector gathers engine metrics
type Collector struct {
	mu       sync.Mutex
	config   *config.MetricsConfig
	registry *prometheus.Registry
	logger   *zap.Logger

	// Prometheus metrics
	readCounter     *prometheus.CounterVec
	readDuration    prometheus.Histogram
	updateCounter   *prometheus.CounterVec
	updateDuration  prometheus.Histogram
	cacheHitCounter *prometheus.CounterVec
	errorCounter    *prometheus.CounterVec
	cacheBytesGauge prometheus.Gauge
	graphNodesGauge prometheus.Gauge
	graphEdgesGauge prometheus.Gauge
	queueDepthGauge prometheus.Gauge

	// HTTP server for metrics endpoint
	server *http.Server
}

// NewCollector creates a new metrics collector
func NewCollector(cfg *config.MetricsConfig, logger *zap.Logger) (*Collector, error) {
	if cfg == nil {
		defaults := config.NewDefault().Monitoring.Metrics
		cfg = &defaults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "contextfs"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	collector := &Collector{
		config:   cfg,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) initMetrics() error {
	ns := c.config.Namespace

	c.readCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "reads_total",
		Help:      "Total optimized file reads by outcome",
	}, []string{"outcome"})

	c.readDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "read_duration_seconds",
		Help:      "File read latency",
		Buckets:   prometheus.DefBuckets,
	})

	c.updateCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "updates_total",
		Help:      "Total context updates by type and outcome",
	}, []string{"type", "outcome"})

	c.updateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "update_duration_seconds",
		Help:      "Context update latency",
		Buckets:   prometheus.DefBuckets,
	})

	c.cacheHitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_requests_total",
		Help:      "Context cache lookups by outcome",
	}, []string{"outcome"})

	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "errors_total",
		Help:      "Engine errors by code",
	}, []string{"code"})

	c.cacheBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_bytes",
		Help:      "Bytes held by the context cache",
	})

	c.graphNodesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "graph_nodes",
		Help:      "Nodes in the dependency graph",
	})

	c.graphEdgesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "graph_edges",
		Help:      "Edges in the dependency graph",
	})

	c.queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "read_queue_depth",
		Help:      "Requests held by the read queue",
	})

	collectors := []prometheus.Collector{
		c.readCounter, c.readDuration,
		c.updateCounter, c.updateDuration,
		c.cacheHitCounter, c.errorCounter,
		c.cacheBytesGauge, c.graphNodesGauge, c.graphEdgesGauge, c.queueDepthGauge,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordRead records one optimized read.
func (c *Collector) RecordRead(fromCache bool, err error, duration time.Duration) {
	outcome := "disk"
	switch {
	case err != nil:
		outcome = "error"
	case fromCache:
		outcome = "cache"
	}
	c.readCounter.WithLabelValues(outcome).Inc()
	if err == nil {
		c.readDuration.Observe(duration.Seconds())
	}
}

// RecordUpdate records one processed update request.
func (c *Collector) RecordUpdate(updateType string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.updateCounter.WithLabelValues(updateType, outcome).Inc()
	c.updateDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records one context cache lookup.
func (c *Collector) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheHitCounter.WithLabelValues(outcome).Inc()
}

// RecordError counts one engine error by code.
func (c *Collector) RecordError(code string) {
	c.errorCounter.WithLabelValues(code).Inc()
}

// SetCacheBytes updates the cache size gauge.
func (c *Collector) SetCacheBytes(bytes int64) {
	c.cacheBytesGauge.Set(float64(bytes))
}

// SetGraphShape updates the graph gauges.
func (c *Collector) SetGraphShape(nodes, edges int) {
	c.graphNodesGauge.Set(float64(nodes))
	c.graphEdgesGauge.Set(float64(edges))
}

// SetQueueDepth updates the read queue gauge.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepthGauge.Set(float64(depth))
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint when exposition is enabled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil {
		return fmt.Errorf("metrics server already started")
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The exposition endpoint is best-effort; the engine keeps running.
			c.logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the metrics server down.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil {
		return nil
	}
	err := c.server.Shutdown(ctx)
	c.server = nil
	return err
}
