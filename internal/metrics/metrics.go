// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package metrics exposes Prometheus instrumentation for the pipeline.
// Hosts that already run a Prometheus registry get these for free;
// nothing in the SDK depends on them being scraped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery pipeline metrics
	EventsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_events_enqueued_total",
			Help: "Total number of events appended to the delivery queue",
		},
	)

	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_events_delivered_total",
			Help: "Total number of events confirmed by the ingestion endpoint",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftline_events_dropped_total",
			Help: "Total number of events dropped without delivery",
		},
		[]string{"reason"}, // "max_failures", "expired"
	)

	DeliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_delivery_retries_total",
			Help: "Total number of delivery attempts after the first failure",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftline_queue_depth",
			Help: "Current number of events awaiting delivery",
		},
	)

	// Screen session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_sessions_started_total",
			Help: "Total number of screen sessions started",
		},
	)

	SessionsLogged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_sessions_logged_total",
			Help: "Total number of screen sessions that produced a view event",
		},
	)

	SessionsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_sessions_recovered_total",
			Help: "Total number of screen sessions reconstructed after a crash",
		},
	)

	// Experiment metrics
	ABRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftline_ab_refreshes_total",
			Help: "Total number of experiment-definition refreshes applied",
		},
	)
)
