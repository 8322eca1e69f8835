package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	ReservationsCreated *prometheus.CounterVec
	BookingRejections   *prometheus.CounterVec
	SlotConflicts       *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	AvailabilityQueries prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector registers every metric on reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the default registry.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		ReservationsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "reservations_created_total",
			Help:      "Reservations created by appointment type.",
		}, []string{"type"}),

		BookingRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "rejections_total",
			Help:      "Booking attempts rejected, by reason code.",
		}, []string{"reason"}),

		SlotConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Slot conflicts by detection point: precheck, lock or constraint.",
		}, []string{"source"}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Reservation lifecycle transitions by target status.",
		}, []string{"status"}),

		AvailabilityQueries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "availability_queries_total",
			Help:      "Available slot computations.",
		}),

		gatherer: reg,
	}
}

func (c *Collector) ReservationCreated(appointmentType string) {
	c.ReservationsCreated.WithLabelValues(appointmentType).Inc()
}

func (c *Collector) BookingRejected(reason string) {
	c.BookingRejections.WithLabelValues(reason).Inc()
}

func (c *Collector) SlotConflict(source string) {
	c.SlotConflicts.WithLabelValues(source).Inc()
}

func (c *Collector) Transitioned(status string) {
	c.Transitions.WithLabelValues(status).Inc()
}

func (c *Collector) AvailabilityQueried() {
	c.AvailabilityQueries.Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
