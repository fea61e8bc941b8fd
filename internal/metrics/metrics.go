package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Room metrics
var (
	// RoomsActive tracks the number of live rooms in the registry.
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rooms_active",
			Help: "Number of active rooms",
		},
	)

	// RoomsCreatedTotal counts room creations by kind.
	RoomsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_created_total",
			Help: "Total rooms created by kind",
		},
		[]string{"kind"},
	)

	// RoomCommandsTotal counts commands processed by room actors,
	// by command type and outcome (applied, dropped, denied, error).
	RoomCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_commands_total",
			Help: "Room actor commands by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// RoomPanicsTotal counts panics recovered inside room actors.
	RoomPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "room_panics_recovered_total",
			Help: "Total panics recovered while processing room commands",
		},
	)
)

// Connection metrics
var (
	// ConnectedClients tracks WebSocket connections across all rooms.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connected_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// ConnectionsRejectedTotal counts connect-time rejections by reason
	// (unauthorized, forbidden, not_found, room_full, too_many_tabs).
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_rejected_total",
			Help: "Rejected connection attempts by reason",
		},
		[]string{"reason"},
	)

	// SlowClientsEvicted counts connections dropped because their
	// outbound buffer stayed full.
	SlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slow_clients_evicted_total",
			Help: "Connections evicted due to a full outbound buffer",
		},
	)

	// RateLimitedDropsTotal counts inbound messages silently dropped by
	// per-connection rate limits.
	RateLimitedDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limited_drops_total",
			Help: "Inbound messages dropped by per-connection rate limits",
		},
	)

	// MalformedDropsTotal counts inbound frames dropped before dispatch.
	MalformedDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "malformed_messages_dropped_total",
			Help: "Inbound frames dropped as malformed or unknown",
		},
	)
)

// Checkpoint metrics
var (
	// CheckpointFailuresTotal counts failed room state saves.
	CheckpointFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "room_checkpoint_failures_total",
			Help: "Failed room state checkpoint writes",
		},
	)

	// StateStoreCircuitState tracks the state store circuit breaker
	// (0=closed, 1=half-open, 2=open).
	StateStoreCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "state_store_circuit_state",
			Help: "Room state store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
