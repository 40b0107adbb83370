// Package metrics holds the prometheus collectors of the gateway
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_http_requests_total",
		Help: "HTTP requests served, by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dicomweb_http_request_duration_seconds",
		Help:    "Latency of HTTP requests, by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	ArchiveRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_archive_requests_total",
		Help: "Calls to the archive REST API, by operation and outcome.",
	}, []string{"operation", "outcome"})

	StowInstances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_stow_instances_total",
		Help: "Instances received through STOW-RS, by outcome.",
	}, []string{"outcome"})
)

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeWarning  = "warning"
	OutcomeFailure  = "failure"
)
