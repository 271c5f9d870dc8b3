// Package metrics defines the Prometheus collectors of the gateway.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "ruby_gateway"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Metrics struct {
	eventsReceived  *prometheus.CounterVec   // by mode
	decodeErrors    *prometheus.CounterVec   // by reason
	eventsPublished *prometheus.CounterVec   // by outcome
	eventsJournaled *prometheus.CounterVec   // by outcome
	requestDuration *prometheus.HistogramVec // by code
	tailClients     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_received_total",
			Help:      "CloudEvents decoded from inbound requests, by content mode",
		}, []string{"mode"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Requests rejected because they did not decode, by reason",
		}, []string{"reason"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_published_total",
			Help:      "Events published to NATS, by outcome",
		}, []string{"outcome"}),
		eventsJournaled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_journaled_total",
			Help:      "Events written to the journal, by outcome",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Ingest request latency by response code",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"code"}),
		tailClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tail_clients",
			Help:      "Connected live tail websocket clients",
		}),
	}

	collectors := []prometheus.Collector{
		m.eventsReceived,
		m.decodeErrors,
		m.eventsPublished,
		m.eventsJournaled,
		m.requestDuration,
		m.tailClients,
	}
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) EventsReceived(mode string, n int) {
	m.eventsReceived.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) DecodeError(reason string) {
	m.decodeErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) Published(err error) {
	m.eventsPublished.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Journaled(n int, err error) {
	m.eventsJournaled.WithLabelValues(outcome(err)).Add(float64(n))
}

func (m *Metrics) ObserveRequest(code int, d time.Duration) {
	m.requestDuration.WithLabelValues(strconv.Itoa(code)).Observe(d.Seconds())
}

func (m *Metrics) TailClients(n int) {
	m.tailClients.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
