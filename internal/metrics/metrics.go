// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every EchoBeacon collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// MQTTConnected is 1 while the broker connection is up.
	MQTTConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "echobeacon_mqtt_connected",
			Help: "Broker connection status (1=connected, 0=otherwise).",
		},
	)

	// MQTTStatusChanges counts connection status transitions by target status.
	MQTTStatusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobeacon_mqtt_status_changes_total",
			Help: "Connection status transitions, by new status.",
		},
		[]string{"status"},
	)

	// CommandsPublished counts publish attempts. result: success/failed.
	CommandsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobeacon_commands_published_total",
			Help: "Commands published to the broker, by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// MessagesReceived counts inbound messages dispatched to handlers.
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobeacon_messages_received_total",
			Help: "Inbound messages handled, by topic.",
		},
		[]string{"topic"},
	)

	// AuditRecords counts audit writes. result: written/failed/dropped.
	AuditRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobeacon_audit_records_total",
			Help: "Audit records, by direction and result.",
		},
		[]string{"direction", "result"},
	)

	// AuditQueueDepth is the number of audit records waiting to be written.
	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "echobeacon_audit_queue_depth",
			Help: "Audit records queued for writing.",
		},
	)

	// PairingOperations counts pair/remove operations. result: success/invalid/failed/inconsistent.
	PairingOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobeacon_pairing_operations_total",
			Help: "Pairing and removal operations, by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// LiveSetSize is the size of the latest snapshot per collection.
	LiveSetSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echobeacon_live_set_size",
			Help: "Records in the latest live snapshot, by collection.",
		},
		[]string{"collection"},
	)

	// CommandLatency records broker publish round trips.
	CommandLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "echobeacon_command_latency_seconds",
			Help:    "Latency of publishing a command to the broker.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		MQTTConnected,
		MQTTStatusChanges,
		CommandsPublished,
		MessagesReceived,
		AuditRecords,
		AuditQueueDepth,
		PairingOperations,
		LiveSetSize,
		CommandLatency,
	)
}

// ObserveConnectionStatus records a broker connection status change.
func ObserveConnectionStatus(status string) {
	MQTTStatusChanges.WithLabelValues(status).Inc()
	if status == "connected" {
		MQTTConnected.Set(1)
		return
	}
	MQTTConnected.Set(0)
}
