package strategy

import (
	"time"

	"auto_ig/internal/models"
)

// Market: read-only view of one instrument, valid for the duration of a hook.
type Market interface {
	Epic() string
	Quote() models.Quote
	// Bars returns a copy of tf's buffer, oldest first.
	Bars(tf models.Timeframe) []models.Bar
}

// Emitter: where hooks publish signals. Implemented by signals.Registry.
type Emitter interface {
	Emit(sig models.Signal)
	Query(epic string, tf models.Timeframe, name string) []models.Signal
	Remove(key models.SignalKey) bool
}

// TradeView: what a strategy may look at when advising on an open trade.
type TradeView interface {
	Epic() string
	Direction() models.Side
	PipDiff() float64
	Prediction() models.Prediction
}

// Strategy is one signal producer. Hooks must not block.
type Strategy interface {
	Name() string
	OnSlowTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter)
	OnFastTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter)
	// Predict is called once per trade, at creation.
	Predict(sig models.Signal, m Market) (models.Prediction, error)
	// OnOpposingSignal reports whether t should be closed because of sig.
	OnOpposingSignal(sig models.Signal, t TradeView) (bool, string)
	// EntryGate is the last veto before an order is sent.
	EntryGate(sig models.Signal, m Market, now time.Time) bool
}

// TickListener is implemented by strategies whose fast hook should also run
// on every feed tick, not only on fast bar close.
type TickListener interface {
	FastOnTick() bool
}

// MinOpposingPips: below this excursion an opposing signal never closes a trade.
const MinOpposingPips = 0.2

// Base: no-op hooks and the default prediction/close rules.
type Base struct {
	name string
}

func NewBase(name string) Base { return Base{name: name} }

func (b Base) Name() string { return b.name }

func (Base) OnSlowTimeframe(Market, []models.Bar, models.Timeframe, Emitter) {}

func (Base) OnFastTimeframe(Market, []models.Bar, models.Timeframe, Emitter) {}

// Predict: stop = 2*ATR5 + 1.5*spread on MINUTE_5, limit = 1.25*ATR5, peak trailing.
func (b Base) Predict(sig models.Signal, m Market) (models.Prediction, error) {
	return ATRPrediction(b.name, sig, m, ATRRule{
		Timeframe:  models.Minute5,
		Period:     5,
		StopATR:    2,
		StopSpread: 1.5,
		LimitATR:   1.25,
	})
}

// OnOpposingSignal closes on a closing-grade signal once the trade is past its limit.
func (Base) OnOpposingSignal(sig models.Signal, t TradeView) (bool, string) {
	if sig.Score < models.ScoreClose {
		return false, ""
	}
	pip := t.PipDiff()
	if pip < MinOpposingPips || pip < t.Prediction().LimitDistance {
		return false, ""
	}
	return true, "opposing " + sig.Name + " past limit"
}

func (Base) EntryGate(models.Signal, Market, time.Time) bool { return true }

// MarketData is a plain Market used for replays and tests.
type MarketData struct {
	EpicID string
	Q      models.Quote
	Series map[models.Timeframe][]models.Bar
}

func (m *MarketData) Epic() string        { return m.EpicID }
func (m *MarketData) Quote() models.Quote { return m.Q }

func (m *MarketData) Bars(tf models.Timeframe) []models.Bar {
	src := m.Series[tf]
	out := make([]models.Bar, len(src))
	for i, b := range src {
		out[i] = b.Clone()
	}
	return out
}

// until hides bars newer than cut on every timeframe.
type until struct {
	Market
	cut time.Time
}

func (u until) Bars(tf models.Timeframe) []models.Bar {
	bars := u.Market.Bars(tf)
	n := len(bars)
	for n > 0 && bars[n-1].Time.After(u.cut) {
		n--
	}
	return bars[:n]
}
