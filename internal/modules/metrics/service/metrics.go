package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auto_ig/internal/models"
)

// Metrics owns a private registry so tests and several instances don't clash.
type Metrics struct {
	reg *prometheus.Registry

	TicksTotal     *prometheus.CounterVec
	SignalsTotal   *prometheus.CounterVec
	PanicsTotal    *prometheus.CounterVec
	BrokerErrors   *prometheus.CounterVec
	TradesFinished *prometheus.CounterVec
	TradesActive   *prometheus.GaugeVec
	CycleSeconds   prometheus.Histogram
	FeedUp         prometheus.Gauge

	mu     sync.Mutex
	states map[string]models.TradeState
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ticks_total", Help: "Feed ticks folded, by epic"},
			[]string{"epic"},
		),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted"},
			[]string{"strategy", "name", "score"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "strategy_panics_total", Help: "Recovered strategy panics"},
			[]string{"strategy", "hook"},
		),
		BrokerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "broker_errors_total", Help: "Failed broker calls"},
			[]string{"op"},
		),
		TradesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trades_finished_total", Help: "Trades that reached a terminal state"},
			[]string{"state", "strategy"},
		),
		TradesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "trades_active", Help: "Live trades by state"},
			[]string{"state"},
		),
		CycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cycle_duration_seconds",
			Help:    "Duration of one orchestrator cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		FeedUp: prometheus.NewGauge(prometheus.GaugeOpts{Name: "feed_connected", Help: "1 while the tick stream is up"}),
		states: make(map[string]models.TradeState),
	}
	m.reg.MustRegister(
		m.TicksTotal, m.SignalsTotal, m.PanicsTotal, m.BrokerErrors,
		m.TradesFinished, m.TradesActive, m.CycleSeconds, m.FeedUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) StrategyPanic(strategy, hook string) {
	m.PanicsTotal.WithLabelValues(strategy, hook).Inc()
}

func (m *Metrics) SignalEmitted(strategy, name string, score int) {
	m.SignalsTotal.WithLabelValues(strategy, name, scoreLabel(score)).Inc()
}

func (m *Metrics) CycleFinished(d time.Duration) { m.CycleSeconds.Observe(d.Seconds()) }
func (m *Metrics) TickReceived(epic string)      { m.TicksTotal.WithLabelValues(epic).Inc() }
func (m *Metrics) BrokerError(op string)         { m.BrokerErrors.WithLabelValues(op).Inc() }

func (m *Metrics) FeedConnected(up bool) {
	if up {
		m.FeedUp.Set(1)
		return
	}
	m.FeedUp.Set(0)
}

// TradeChanged keeps trades_active in step with the manager.
func (m *Metrics) TradeChanged(rec models.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, known := m.states[rec.ID]
	if known && prev == rec.State {
		return
	}
	if known {
		m.TradesActive.WithLabelValues(string(prev)).Dec()
	}
	if rec.State.Terminal() {
		delete(m.states, rec.ID)
		m.TradesFinished.WithLabelValues(string(rec.State), rec.Prediction.Strategy).Inc()
		return
	}
	m.states[rec.ID] = rec.State
	m.TradesActive.WithLabelValues(string(rec.State)).Inc()
}

func scoreLabel(score int) string {
	switch score {
	case models.ScoreOpen:
		return "open"
	case models.ScoreClose:
		return "close"
	case models.ScoreInfo:
		return "info"
	}
	return "other"
}
