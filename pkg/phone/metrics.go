package phone

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики контроллера. Нулевой указатель допустим: все методы
// становятся пустыми.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callsFailed      *prometheus.CounterVec
	callActive       prometheus.Gauge
	callDuration     prometheus.Histogram
	stateTransitions *prometheus.CounterVec
	registrations    *prometheus.CounterVec
	actionErrors     *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webphone",
			Name:      "calls_total",
			Help:      "Calls started, by direction",
		}, []string{"direction"}),
		callsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webphone",
			Name:      "calls_failed_total",
			Help:      "Calls failed before or during setup, by cause",
		}, []string{"cause"}),
		callActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "webphone",
			Name:      "call_active",
			Help:      "1 while a call session is referenced by the controller",
		}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "webphone",
			Name:      "call_duration_seconds",
			Help:      "Duration of established calls",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webphone",
			Name:      "call_state_transitions_total",
			Help:      "Call state machine transitions",
		}, []string{"from", "to"}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webphone",
			Name:      "registration_events_total",
			Help:      "Registration outcomes reported by the SIP engine",
		}, []string{"result"}),
		actionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webphone",
			Name:      "action_errors_total",
			Help:      "Rejected or failed user actions, by error code",
		}, []string{"code"}),
	}
}

func (m *Metrics) callStarted(direction string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction).Inc()
	m.callActive.Set(1)
}

func (m *Metrics) callFailed(cause string) {
	if m == nil {
		return
	}
	if cause == "" {
		cause = "unknown"
	}
	m.callsFailed.WithLabelValues(cause).Inc()
}

func (m *Metrics) callReleased(established time.Time) {
	if m == nil {
		return
	}
	m.callActive.Set(0)
	if !established.IsZero() {
		m.callDuration.Observe(time.Since(established).Seconds())
	}
}

func (m *Metrics) transition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) actionError(err error) {
	if m == nil || err == nil {
		return
	}
	code := "unknown"
	var e *Error
	if errors.As(err, &e) {
		code = e.Code
	}
	m.actionErrors.WithLabelValues(code).Inc()
}
