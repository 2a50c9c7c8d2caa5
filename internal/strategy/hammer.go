package strategy

import (
	"fmt"
	"math"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const Hammer = "HAMMER"

type HammerConfig struct {
	Timeframe models.Timeframe `yaml:"timeframe"`
	// MaxBody: body as a fraction of the range.
	MaxBody float64 `yaml:"max_body"`
	// ShadowRatio: big shadow must exceed the small one by this factor.
	ShadowRatio float64 `yaml:"shadow_ratio"`
	TrendBars   int     `yaml:"trend_bars"`
	Life        int     `yaml:"life"`
}

// HammerStrategy detects hammer candles against an EMA8/EMA20 trend and waits
// for a later bid close beyond the shadow before the signal may trade.
type HammerStrategy struct {
	Base
	cfg HammerConfig
}

func NewHammer(cfg HammerConfig) *HammerStrategy {
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.Minute30
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 0.4
	}
	if cfg.ShadowRatio <= 0 {
		cfg.ShadowRatio = 1.25
	}
	if cfg.TrendBars <= 0 {
		cfg.TrendBars = 10
	}
	if cfg.Life <= 0 {
		cfg.Life = 4
	}
	return &HammerStrategy{Base: NewBase("hammer"), cfg: cfg}
}

func (s *HammerStrategy) OnSlowTimeframe(_ Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != s.cfg.Timeframe || len(bars) < s.cfg.TrendBars+1 {
		return
	}
	now := bars[len(bars)-1]
	hi, lo := now.High.Bid, now.Low.Bid
	size := hi - lo
	if size <= 0 {
		return
	}
	top := math.Max(now.Open.Bid, now.Close.Bid)
	bottom := math.Min(now.Open.Bid, now.Close.Bid)
	upper := (hi - top) / size
	lower := (bottom - lo) / size
	big, small := math.Max(upper, lower), math.Min(upper, lower)
	if (top-bottom)/size >= s.cfg.MaxBody || big <= small*s.cfg.ShadowRatio {
		return
	}

	fast := indicators.EMA(indicators.Closes(bars, indicators.Mid), indicators.FastEMA)
	slow := indicators.EMA(indicators.Closes(bars, indicators.Mid), indicators.SlowEMA)
	side := trendSide(fast, slow, len(bars)-1)
	for i := len(bars) - 1 - s.cfg.TrendBars; i < len(bars)-1; i++ {
		if trendSide(fast, slow, i) != side {
			return
		}
	}

	var (
		target  float64
		confirm func(models.Bar) bool
	)
	if side == models.SideBuy {
		target = top + big*size
		confirm = func(b models.Bar) bool { return b.Close.Bid > target }
	} else {
		target = bottom - big*size
		confirm = func(b models.Bar) bool { return b.Close.Bid < target }
	}
	out.Emit(models.Signal{
		Name:      Hammer,
		Position:  side,
		Score:     models.ScoreOpen,
		Life:      s.cfg.Life,
		Comment:   fmt.Sprintf("o:%.5f c:%.5f h:%.5f l:%.5f confirm at %.5f", now.Open.Bid, now.Close.Bid, hi, lo, target),
		Timestamp: now.Time,
		Confirm:   confirm,
	})
}

// trendSide: a hammer under a rising EMA8 is a top, so SELL; otherwise BUY.
func trendSide(fast, slow []float64, i int) models.Side {
	if fast[i] > slow[i] {
		return models.SideSell
	}
	return models.SideBuy
}
