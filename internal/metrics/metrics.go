// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors shared by the
// brainstormx components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bsx_sessions_active",
		Help: "Number of live workshop sessions",
	})

	SessionsConcludedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_sessions_concluded_total",
		Help: "Total number of concluded workshop sessions",
	})

	SessionsQuarantinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_sessions_quarantined_total",
		Help: "Total number of sessions quarantined after an invariant violation",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_events_published_total",
		Help: "Total number of session events published, by event kind",
	}, []string{"kind"})

	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bsx_hub_subscribers",
		Help: "Number of live hub subscriptions across all sessions",
	})

	HubDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_hub_dropped_total",
		Help: "Total number of subscribers dropped by the hub, by reason",
	}, []string{"reason"})

	HubReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_hub_replayed_total",
		Help: "Total number of events replayed from the backlog on resubscribe",
	})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_gateway_requests_total",
		Help: "Total AI gateway provider calls, by stage and outcome",
	}, []string{"stage", "outcome"})

	GatewayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_gateway_retries_total",
		Help: "Total AI gateway retry attempts, by stage",
	}, []string{"stage"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bsx_gateway_duration_seconds",
		Help:    "Latency of AI gateway provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	IdeasSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_ideas_submitted_total",
		Help: "Total number of ideas submitted across all sessions",
	})

	VotesCastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_votes_cast_total",
		Help: "Total number of votes cast across all sessions",
	})

	NudgesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsx_nudges_sent_total",
		Help: "Total number of inactivity nudges sent to participants",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsx_http_requests_total",
		Help: "Total HTTP requests, by method, route pattern and status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bsx_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	SSEStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bsx_sse_streams_active",
		Help: "Number of open server-sent-event streams",
	})
)

// IncHubDrop records a dropped hub subscriber with a concrete reason.
func IncHubDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	HubDroppedTotal.WithLabelValues(reason).Inc()
}
