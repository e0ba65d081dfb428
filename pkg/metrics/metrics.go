// Package metrics provides observability for walletmux using Prometheus
// metrics. Counters cover the connection manager's externally observable
// behavior: activations, state transitions, routed errors, change events and
// render bumps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Activations counts connector activation attempts by outcome.
	// Status is one of "success", "failure", "cancelled".
	Activations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletmux_activations_total",
			Help: "Connector activation attempts by connector and status",
		},
		[]string{"connector", "status"},
	)

	// StateTransitions counts state store transitions by action tag.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletmux_state_transitions_total",
			Help: "State store transitions by action",
		},
		[]string{"action"},
	)

	// RoutedErrors counts errors committed to shared state.
	// Scope is "connector" or "global".
	RoutedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletmux_routed_errors_total",
			Help: "Errors committed to the shared state snapshot by scope",
		},
		[]string{"scope"},
	)

	// ChangeEvents counts change notifications received from the active
	// connector. Kind is "network" or "account".
	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletmux_change_events_total",
			Help: "Change notifications received from the active connector",
		},
		[]string{"kind"},
	)

	// RenderBumps counts force-render trigger invocations.
	// Kind is "network" or "account".
	RenderBumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletmux_render_bumps_total",
			Help: "Force-render trigger invocations by kind",
		},
		[]string{"kind"},
	)

	// ActiveConnector reports whether a connector is currently active.
	ActiveConnector = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletmux_active_connector",
			Help: "1 while the labeled connector is the active connector",
		},
		[]string{"connector"},
	)
)
