package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findicon_catalog_requests_total",
		Help: "Catalog fetches by outcome",
	}, []string{"result"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findicon_cache_lookups_total",
		Help: "Response cache lookups by result",
	}, []string{"result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findicon_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "findicon_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	favoritesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "findicon_favorites",
		Help: "Number of stored favorite icons",
	})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "findicon_sessions",
		Help: "Number of open search sessions",
	})
)
