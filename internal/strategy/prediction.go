package strategy

import (
	"errors"
	"fmt"
	"math"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

var (
	ErrNotEnoughData = errors.New("not enough bars")
	ErrBadStop       = errors.New("stop distance out of range")
)

// ATRRule sizes stop and limit from the ATR of one timeframe.
type ATRRule struct {
	Timeframe models.Timeframe
	Period    int
	// stop = StopATR*atr + StopSpread*spread, limit = LimitATR*atr (or Limit when set)
	StopATR    float64
	StopSpread float64
	LimitATR   float64
	Limit      float64
	// Ceil rounds both distances up to whole points.
	Ceil     bool
	Trailing models.TrailRule
}

// ATRPrediction builds the frozen trade parameters for sig from m.
func ATRPrediction(strategy string, sig models.Signal, m Market, r ATRRule) (models.Prediction, error) {
	bars := m.Bars(r.Timeframe)
	atr, tr := indicators.ATR(bars, r.Period, indicators.Mid)
	if len(atr) == 0 {
		return models.Prediction{}, fmt.Errorf("%s atr_%d on %s: %w", m.Epic(), r.Period, r.Timeframe, ErrNotEnoughData)
	}
	last := indicators.Last(atr)
	spread := m.Quote().Spread

	stop := r.StopATR*last + r.StopSpread*spread
	limit := r.Limit
	if limit == 0 {
		limit = r.LimitATR * last
	}
	if r.Ceil {
		stop, limit = math.Ceil(stop), math.Ceil(limit)
	}
	if stop <= 0 {
		return models.Prediction{}, fmt.Errorf("%s stop %.2f: %w", m.Epic(), stop, ErrBadStop)
	}

	p := models.NewPrediction(strategy, sig, stop, limit)
	p.ATRLow, p.ATRMax = minMax(tr)
	if r.Trailing.Mode != "" {
		p.Trailing = r.Trailing
	}
	return p, nil
}

func minMax(v []float64) (lo, hi float64) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi = v[0], v[0]
	for _, x := range v[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}

// direction of the last step of v: BUY rising, SELL falling.
func direction(v []float64) models.Side {
	if len(v) < 2 {
		return models.SideNone
	}
	switch d := v[len(v)-1] - v[len(v)-2]; {
	case d > 0:
		return models.SideBuy
	case d < 0:
		return models.SideSell
	}
	return models.SideNone
}
