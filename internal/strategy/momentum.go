package strategy

import (
	"fmt"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const (
	MomentumOpen  = "MOMENTUM_OPEN"
	MomentumClose = "MOMENTUM_CLOSE"
)

type MomentumConfig struct {
	Timeframe models.Timeframe `yaml:"timeframe"`
	Fast      int              `yaml:"fast"`
	Slow      int              `yaml:"slow"`
	Trend     int              `yaml:"trend"`
	Life      int              `yaml:"life"`
}

// Momentum: fast/slow WMA cross in the direction of a long WMA trend line.
type Momentum struct {
	Base
	cfg MomentumConfig
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.Minute30
	}
	if cfg.Fast <= 0 {
		cfg.Fast = 5
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 10
	}
	if cfg.Trend <= 0 {
		cfg.Trend = 20
	}
	if cfg.Life <= 0 {
		cfg.Life = 1
	}
	return &Momentum{Base: NewBase("momentum"), cfg: cfg}
}

func (s *Momentum) OnSlowTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != s.cfg.Timeframe || len(bars) < s.cfg.Trend+1 {
		return
	}
	fast := indicators.WMABars(bars, s.cfg.Fast, indicators.Mid)
	slow := indicators.WMABars(bars, s.cfg.Slow, indicators.Mid)
	trend := indicators.WMABars(bars, s.cfg.Trend, indicators.Mid)
	f, sl, tr := indicators.Last(fast), indicators.Last(slow), indicators.Last(trend)
	now := bars[len(bars)-1]

	switch {
	case indicators.Crossover(fast, slow):
		if f > tr && sl > tr {
			out.Emit(s.signal(MomentumOpen, now, models.SideBuy, models.ScoreOpen,
				fmt.Sprintf("wma%d %.5f over wma%d %.5f above trend %.5f", s.cfg.Fast, f, s.cfg.Slow, sl, tr)))
			return
		}
		out.Emit(s.signal(MomentumClose, now, models.SideBuy, models.ScoreClose, "cross up against trend"))
	case indicators.Crossunder(fast, slow):
		if f < tr && sl < tr {
			out.Emit(s.signal(MomentumOpen, now, models.SideSell, models.ScoreOpen,
				fmt.Sprintf("wma%d %.5f under wma%d %.5f below trend %.5f", s.cfg.Fast, f, s.cfg.Slow, sl, tr)))
			return
		}
		out.Emit(s.signal(MomentumClose, now, models.SideSell, models.ScoreClose, "cross down against trend"))
	}
}

func (s *Momentum) signal(name string, b models.Bar, side models.Side, score int, comment string) models.Signal {
	return models.Signal{
		Name:      name,
		Timeframe: s.cfg.Timeframe,
		Position:  side,
		Score:     score,
		Life:      s.cfg.Life,
		Comment:   comment,
		Timestamp: b.Time,
	}
}

func (s *Momentum) Predict(sig models.Signal, m Market) (models.Prediction, error) {
	return ATRPrediction(s.Name(), sig, m, ATRRule{
		Timeframe:  s.cfg.Timeframe,
		Period:     14,
		StopATR:    1.5,
		StopSpread: 2,
		LimitATR:   1,
		Ceil:       true,
	})
}
