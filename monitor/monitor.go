// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slopgame/slop/events"
)

// Metrics are the server's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Commands          *prometheus.CounterVec
	EventsAppended    *prometheus.CounterVec
	ActiveGames       prometheus.Gauge
	OnlineSockets     prometheus.Gauge
	ScriptGeneration  prometheus.Histogram
	BroadcastFailures prometheus.Counter
	ReplayedEvents    prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Game commands handled, by command and outcome code",
		}, []string{"command", "outcome"}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events durably appended, by event type",
		}, []string{"event_type"}),
		ActiveGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_games",
			Help:      "Games loaded in memory",
		}),
		OnlineSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_sockets",
			Help:      "Connected websocket clients",
		}),
		ScriptGeneration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_generation_seconds",
			Help:      "Script generation latency",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Realtime deliveries that failed",
		}),
		ReplayedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_events_total",
			Help:      "Events folded while recovering games from storage",
		}),
	}

	reg.MustRegister(
		m.Commands,
		m.EventsAppended,
		m.ActiveGames,
		m.OnlineSockets,
		m.ScriptGeneration,
		m.BroadcastFailures,
		m.ReplayedEvents,
	)

	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) AddEvents(evts []events.Event) {
	if m == nil {
		return
	}
	for _, evt := range evts {
		m.EventsAppended.WithLabelValues(string(evt.EventType())).Inc()
	}
}

func (m *Metrics) SetActiveGames(count int) {
	if m == nil {
		return
	}
	m.ActiveGames.Set(float64(count))
}

func (m *Metrics) IncOnlineSockets() {
	if m == nil {
		return
	}
	m.OnlineSockets.Inc()
}

func (m *Metrics) DecOnlineSockets() {
	if m == nil {
		return
	}
	m.OnlineSockets.Dec()
}

func (m *Metrics) ObserveScriptGeneration(duration time.Duration) {
	if m == nil {
		return
	}
	m.ScriptGeneration.Observe(duration.Seconds())
}

func (m *Metrics) IncBroadcastFailures() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

func (m *Metrics) AddReplayed(n int) {
	if m == nil {
		return
	}
	m.ReplayedEvents.Add(float64(n))
}
