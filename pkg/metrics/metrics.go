package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "usenetstreamer"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Time to first byte of HTTP responses in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
	}, []string{"method", "route"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Total requests to NZBDav by operation and result.",
	}, []string{"operation", "result"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "NZBDav request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Download references handed to the queue by outcome.",
	}, []string{"outcome"})

	PollOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_outcomes_total",
		Help:      "Terminal states reached while awaiting queue jobs.",
	}, []string{"outcome"})

	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_cache_lookups_total",
		Help:      "Stream cache lookups by result (hit, failed_hit, joined, miss).",
	}, []string{"result"})

	PreparationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "preparations_in_flight",
		Help:      "Stream preparations currently running.",
	})

	ProxyBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_bytes_total",
		Help:      "Bytes relayed from the file server to clients.",
	})

	ProxyResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_results_total",
		Help:      "Proxied stream outcomes (ok, client_abort, upstream_error).",
	}, []string{"result"})

	FallbackServedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_served_total",
		Help:      "Times the failure video was served in place of a stream.",
	})
)

// ObserveUpstream records one NZBDav call.
func ObserveUpstream(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(operation, result).Inc()
	UpstreamRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		SubmissionsTotal,
		PollOutcomesTotal,
		CacheLookupsTotal,
		PreparationsInFlight,
		ProxyBytesTotal,
		ProxyResultsTotal,
		FallbackServedTotal,
	)
}
