package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Стадии, на которых может упасть отправка
const (
	StageStart    = "start"
	StageFetch    = "fetch"
	StageDispatch = "dispatch"
	StageFinal    = "final"
)

// Metrics — счетчики движка сессии.
// Все методы безопасно вызывать у nil.
type Metrics struct {
	sectionSubmits *prometheus.CounterVec
	expiries       prometheus.Counter
	failures       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	remaining      prometheus.Gauge
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sectionSubmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_section_submits_total",
				Help: "Total number of section submissions",
			},
			[]string{"reason"},
		),
		expiries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exam_section_expiries_total",
				Help: "Total number of section timers that reached zero",
			},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_remote_failures_total",
				Help: "Total number of failed remote operations",
			},
			[]string{"stage"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_remote_retries_total",
				Help: "Total number of retried remote operations",
			},
			[]string{"stage"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_sessions_total",
				Help: "Total number of finished sessions by outcome",
			},
			[]string{"outcome"},
		),
		remaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "exam_section_remaining_seconds",
				Help: "Seconds left in the active section",
			},
		),
	}

	reg.MustRegister(
		m.sectionSubmits,
		m.expiries,
		m.failures,
		m.retries,
		m.sessions,
		m.remaining,
	)

	return m
}

// SectionSubmitted учитывает отправку секции по причине reason.
func (m *Metrics) SectionSubmitted(reason string) {
	if m == nil {
		return
	}
	m.sectionSubmits.WithLabelValues(reason).Inc()
}

// SectionExpired учитывает истечение таймера секции.
func (m *Metrics) SectionExpired() {
	if m == nil {
		return
	}
	m.expiries.Inc()
}

// Failure учитывает неудачную удаленную операцию.
func (m *Metrics) Failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// Retry учитывает повтор удаленной операции.
func (m *Metrics) Retry(stage string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stage).Inc()
}

// SessionFinished учитывает завершение сессии с исходом outcome.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

// Remaining выставляет оставшееся время активной секции.
func (m *Metrics) Remaining(seconds int) {
	if m == nil {
		return
	}
	m.remaining.Set(float64(seconds))
}

// Handler отдает метрики из g в формате Prometheus.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
