// Package metrics exposes Prometheus instrumentation for feed loads.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks performance metrics for the feed. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry         *prometheus.Registry
	loads            *prometheus.CounterVec
	remoteErrors     prometheus.Counter
	cacheWriteErrors prometheus.Counter
	remoteFetchTimes prometheus.Histogram
	postsInFeed      prometheus.Gauge
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_loads_total",
			Help: "Feed loads by the source that produced the posts.",
		}, []string{"source"}),
		remoteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_remote_errors_total",
			Help: "Failed fetches from the posts API.",
		}),
		cacheWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_cache_write_errors_total",
			Help: "Failed cache replacements.",
		}),
		remoteFetchTimes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_remote_fetch_seconds",
			Help:    "Latency of fetches from the posts API.",
			Buckets: prometheus.DefBuckets,
		}),
		postsInFeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_posts",
			Help: "Posts in the current feed.",
		}),
	}

	c.registry.MustRegister(
		c.loads,
		c.remoteErrors,
		c.cacheWriteErrors,
		c.remoteFetchTimes,
		c.postsInFeed,
		collectors.NewGoCollector(),
	)
	return c
}

// ObserveLoad records a completed load and the resulting feed size
func (c *Collector) ObserveLoad(source string, posts int) {
	if c == nil {
		return
	}
	c.loads.WithLabelValues(source).Inc()
	c.postsInFeed.Set(float64(posts))
}

// ObserveRemoteFetch records the latency of one API call
func (c *Collector) ObserveRemoteFetch(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.remoteFetchTimes.Observe(d.Seconds())
	if err != nil {
		c.remoteErrors.Inc()
	}
}

// IncCacheWriteErrors counts a failed cache replacement
func (c *Collector) IncCacheWriteErrors() {
	if c == nil {
		return
	}
	c.cacheWriteErrors.Inc()
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
