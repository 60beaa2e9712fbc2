package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "harvest"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Inspection API requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Inspection API request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound portal requests."},
		[]string{"service", "outcome", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"service"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"},
	)

	CrawlTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "crawl_tasks_total", Help: "Crawl task outcomes."},
		[]string{"kind", "outcome"}, // outcome: parsed|retry|failed|dropped
	)
	CrawlRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "crawl_retries_total", Help: "Retries scheduled by failure kind."},
		[]string{"kind", "reason"},
	)
	ThrottleDelay = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "throttle_delay_seconds", Help: "Current inter-request delay."},
	)
	ReconcileEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_events_total", Help: "Reconciler outcomes."},
		[]string{"event"}, // inserted|price_changed|refreshed|unreferenced|skipped|sold
	)
)

var all = []prometheus.Collector{
	HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
	CrawlTasks, CrawlRetries, ThrottleDelay, ReconcileEvents,
}

// Serve exposes the collectors on addr for batch binaries. It is a no-op when
// addr is empty.
func Serve(addr string) {
	if addr == "" {
		return
	}
	reg := InitRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(all...)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, outcome string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, outcome, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveTask(kind, outcome string) { CrawlTasks.WithLabelValues(kind, outcome).Inc() }

func ObserveRetry(kind, reason string) { CrawlRetries.WithLabelValues(kind, reason).Inc() }

func SetThrottleDelay(d time.Duration) { ThrottleDelay.Set(d.Seconds()) }

func ObserveReconcile(event string, n int) {
	if n > 0 {
		ReconcileEvents.WithLabelValues(event).Add(float64(n))
	}
}
