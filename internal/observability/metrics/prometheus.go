// Package metrics provides Prometheus metrics for the scheduling engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	AppointmentsBooked    prometheus.Counter
	BookingsRejected      *prometheus.CounterVec
	BookingConflictRaces  prometheus.Counter
	Cancellations         *prometheus.CounterVec
	Reschedules           prometheus.Counter
	BookingDuration       prometheus.Histogram
	RemindersDispatched   *prometheus.CounterVec
	RemindersFailed       prometheus.Counter
	ObligationsPending    prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		AppointmentsBooked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appointments_booked_total",
			Help: "Total appointments admitted",
		}),
		BookingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookings_rejected_total",
			Help: "Total booking requests rejected, by reason",
		}, []string{"reason"}),
		BookingConflictRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_conflict_races_total",
			Help: "Bookings that lost the constraint race and were rechecked",
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appointments_cancelled_total",
			Help: "Total cancellations, by fee outcome",
		}, []string{"fee_applied"}),
		Reschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appointments_rescheduled_total",
			Help: "Total appointments moved to a new slot",
		}),
		BookingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "booking_duration_seconds",
			Help:    "Booking admission duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		RemindersDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_dispatched_total",
			Help: "Total reminders dispatched, by channel",
		}, []string{"channel"}),
		RemindersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_failed_total",
			Help: "Total reminder dispatch failures",
		}),
		ObligationsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obligations_pending",
			Help: "Pending reminder and notification obligations",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.AppointmentsBooked,
		m.BookingsRejected,
		m.BookingConflictRaces,
		m.Cancellations,
		m.Reschedules,
		m.BookingDuration,
		m.RemindersDispatched,
		m.RemindersFailed,
		m.ObligationsPending,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
