package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics собирает счётчики движка. Все методы безопасны для nil-получателя,
// поэтому компоненты можно создавать без метрик (в тестах).
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested    *prometheus.CounterVec
	eventsRejected    *prometheus.CounterVec
	matchTransitions  *prometheus.CounterVec
	resolveDuration   prometheus.Histogram
	resolveFailures   prometheus.Counter
	commandsSent      *prometheus.CounterVec
	observers         prometheus.Gauge
	rooms             prometheus.Gauge
	droppedObservers  prometheus.Counter
	scheduleShiftSecs prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tournament_live_events_ingested_total",
			Help: "Live events accepted from game servers, by kind and staleness.",
		}, []string{"kind", "stale"}),
		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tournament_live_events_rejected_total",
			Help: "Live events rejected before processing, by reason.",
		}, []string{"reason"}),
		matchTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tournament_match_transitions_total",
			Help: "Match phase transitions, by target phase and source.",
		}, []string{"phase", "source"}),
		resolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tournament_bracket_resolve_duration_seconds",
			Help:    "Duration of bracket resolution after a match finishes.",
			Buckets: prometheus.DefBuckets,
		}),
		resolveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tournament_bracket_resolve_failures_total",
			Help: "Bracket resolutions that returned an error.",
		}),
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tournament_gameserver_commands_total",
			Help: "Console commands sent to game servers, by command and result.",
		}, []string{"command", "result"}),
		observers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tournament_live_observers",
			Help: "Currently connected live observers.",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tournament_live_rooms",
			Help: "Matches with live state held in memory.",
		}),
		droppedObservers: factory.NewCounter(prometheus.CounterOpts{
			Name: "tournament_live_observers_dropped_total",
			Help: "Observers disconnected because they could not keep up.",
		}),
		scheduleShiftSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tournament_schedule_shift_seconds",
			Help:    "Schedule shifts applied after a delayed match start.",
			Buckets: []float64{600, 900, 1200, 1800, 3600, 7200},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventIngested(kind string, stale bool) {
	if m == nil {
		return
	}
	s := "false"
	if stale {
		s = "true"
	}
	m.eventsIngested.WithLabelValues(kind, s).Inc()
}

func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) MatchTransition(phase, source string) {
	if m == nil {
		return
	}
	m.matchTransitions.WithLabelValues(phase, source).Inc()
}

func (m *Metrics) ObserveResolve(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.resolveDuration.Observe(d.Seconds())
	if err != nil {
		m.resolveFailures.Inc()
	}
}

func (m *Metrics) CommandSent(command string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commandsSent.WithLabelValues(command, result).Inc()
}

func (m *Metrics) ObserverConnected() {
	if m == nil {
		return
	}
	m.observers.Inc()
}

func (m *Metrics) ObserverDisconnected(dropped bool) {
	if m == nil {
		return
	}
	m.observers.Dec()
	if dropped {
		m.droppedObservers.Inc()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) ScheduleShifted(shift time.Duration) {
	if m == nil {
		return
	}
	m.scheduleShiftSecs.Observe(shift.Seconds())
}
