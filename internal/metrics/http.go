// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rokutuner_http_request_duration_seconds",
		Help:    "HTTP request duration by route (stream routes measure the full session)",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
	}, []string{"method", "route"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_http_rate_limited_total",
		Help: "Requests rejected by the control-route rate limiter",
	}, []string{"route"})
)

// ObserveHTTPRequest records one completed request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimited counts a rate-limited request.
func RecordRateLimited(route string) {
	rateLimited.WithLabelValues(route).Inc()
}

// HTTPInFlight tracks requests currently being served, stream relays included.
var HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rokutuner_http_requests_in_flight",
	Help: "Current number of HTTP requests being served",
})
