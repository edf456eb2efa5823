// Package metrics exposes Prometheus collectors for the delivery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatnform_connections_active",
			Help: "Currently open websocket connections",
		},
	)

	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_connections_accepted_total",
			Help: "Total accepted websocket connections",
		},
	)

	ConnectionsRefused = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnform_connections_refused_total",
			Help: "Total refused websocket connections",
		},
		[]string{"reason"}, // "unauthorized", "origin", "handshake"
	)

	ForceDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_force_disconnects_total",
			Help: "Connections closed because a newer connection superseded them",
		},
	)

	// Ingestion metrics
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnform_messages_published_total",
			Help: "Messages accepted and published to the broker",
		},
		[]string{"message_type"},
	)

	DedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_dedup_hits_total",
			Help: "Inbound messages silently absorbed as duplicates",
		},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_publish_failures_total",
			Help: "Broker publish attempts that failed",
		},
	)

	// Fan-out metrics
	BroadcastsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_broadcasts_delivered_total",
			Help: "Broadcast envelopes delivered to clients",
		},
	)

	LoopbacksSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_loopbacks_suppressed_total",
			Help: "Broadcast envelopes dropped because they originated on the receiving connection",
		},
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_decrypt_failures_total",
			Help: "Broadcast payloads relayed as raw ciphertext after a decrypt failure",
		},
	)

	// Consumer metrics
	ConsumerForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnform_consumer_forwarded_total",
			Help: "Broker records forwarded to the fan-out dispatcher",
		},
	)

	ConsumerDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnform_consumer_dropped_total",
			Help: "Broker records dropped by the consumer loop",
		},
		[]string{"reason"}, // "malformed", "forward_failed"
	)
)
