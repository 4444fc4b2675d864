// Package metrics provides Prometheus instrumentation for checkout
// session, reservation, vault, settlement, and webhook activity.
// Collectors are package-level vars under one namespace, registered
// once at process startup via Register; there's no per-request wiring
// beyond that.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CheckoutSessionsTotal counts sessions by terminal/non-terminal
	// transition outcome.
	CheckoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "sessions_total",
			Help:      "Total checkout sessions by resulting status.",
		},
		[]string{"status"},
	)

	// ReservationsTotal counts inventory reservation outcomes.
	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "inventory",
			Name:      "reservations_total",
			Help:      "Total inventory reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// ReservationsExpired counts reservations auto-expired by the sweeper
	// or by the lazy expiry step in inventory Reserve.
	ReservationsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "inventory",
			Name:      "reservations_expired_total",
			Help:      "Total held reservations expired by the sweeper or by lazy expiry in Reserve.",
		},
	)

	// VaultTokensTotal counts vault token lifecycle events.
	VaultTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "vault",
			Name:      "tokens_total",
			Help:      "Total vault token operations by event.",
		},
		[]string{"event"},
	)

	// SettlementsTotal counts settlement pipeline outcomes by channel
	// and resulting status.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "settlement",
			Name:      "completions_total",
			Help:      "Total settlement pipeline completions by channel and status.",
		},
		[]string{"channel", "status"},
	)

	// WebhookDeliveriesTotal counts webhook delivery outcomes:
	// delivered, or dead_lettered after exhausting retries.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total webhook delivery outcomes by result.",
		},
		[]string{"result"},
	)

	// CircuitBreakerState tracks the current breaker state per merchant key.
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "checkout",
			Subsystem: "psp",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open) by merchant key.",
		},
		[]string{"merchant_key"},
	)

	// ActiveReservations gauges the number of currently held reservations.
	ActiveReservations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "checkout",
			Subsystem: "inventory",
			Name:      "active_reservations",
			Help:      "Number of currently held (non-terminal) reservations.",
		},
	)
)

// Register adds every collector to reg. Panics if called twice on the
// same registry; callers must invoke it exactly once at process
// startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CheckoutSessionsTotal,
		ReservationsTotal,
		ReservationsExpired,
		VaultTokensTotal,
		SettlementsTotal,
		WebhookDeliveriesTotal,
		CircuitBreakerState,
		ActiveReservations,
	)
}
