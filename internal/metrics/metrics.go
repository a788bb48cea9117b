// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation for the registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry business metrics
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_publish_total",
		Help: "Manifest publish attempts by outcome",
	}, []string{"outcome"}) // outcome=success|replay|conflict|invalid|malformed|unsupported_media_type

	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_fetch_total",
		Help: "Manifest fetch attempts by outcome",
	}, []string{"outcome"}) // outcome=success|not_found|yanked

	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_resolve_total",
		Help: "Constraint resolution attempts by outcome",
	}, []string{"outcome"}) // outcome=success|unsatisfied|malformed

	yankTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_yank_total",
		Help: "Version yank attempts by outcome",
	}, []string{"outcome"}) // outcome=success|not_found

	packagesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cultivator_packages_total",
		Help: "Number of distinct packages in the registry",
	})

	validationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cultivator_manifest_validation_errors_total",
		Help: "Total number of manifest validation failures",
	})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_rate_limit_rejections_total",
		Help: "Requests rejected by rate limiting, by limiter scope",
	}, []string{"scope"}) // scope=global|per_ip

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_cache_lookups_total",
		Help: "Record cache lookups by outcome",
	}, []string{"outcome"}) // outcome=hit|miss

	// Export job metrics
	exportTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_index_export_total",
		Help: "Index export runs by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cultivator_index_export_duration_seconds",
		Help:    "Time spent writing the registry index",
		Buckets: prometheus.DefBuckets,
	})

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivator_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cultivator_http_request_duration_seconds",
		Help:    "HTTP request latency by route and method",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

func IncPublish(outcome string) { publishTotal.WithLabelValues(outcome).Inc() }
func IncFetch(outcome string)   { fetchTotal.WithLabelValues(outcome).Inc() }
func IncResolve(outcome string) { resolveTotal.WithLabelValues(outcome).Inc() }
func IncYank(outcome string)    { yankTotal.WithLabelValues(outcome).Inc() }

func RecordPackagesCount(n int) { packagesTotal.Set(float64(n)) }
func IncValidationError()       { validationErrors.Inc() }

func IncRateLimited(scope string) { rateLimitRejections.WithLabelValues(scope).Inc() }

func IncCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
}

func IncExport(outcome string)              { exportTotal.WithLabelValues(outcome).Inc() }
func ObserveExportDuration(d time.Duration) { exportDuration.Observe(d.Seconds()) }

func ObserveHTTPRequest(route, method, code string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(route, method, code).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
