package strategy

import (
	"fmt"
	"math"
	"time"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const LinRegSlowOpen = "LINREG_SLOW_OPEN"

type LinRegConfig struct {
	Window    int     `yaml:"window"`
	Threshold float64 `yaml:"threshold"`

	// stop sanity band and limit cap, in points
	MinStop  float64 `yaml:"min_stop"`
	MaxStop  float64 `yaml:"max_stop"`
	MaxLimit float64 `yaml:"max_limit"`
}

// LinReg: mean reversion when the bid strays from the MINUTE_30 regression
// line; entries only inside the instrument's currency session.
type LinReg struct {
	Base
	cfg LinRegConfig
}

func NewLinReg(cfg LinRegConfig) *LinReg {
	if cfg.Window <= 0 {
		cfg.Window = 16
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if cfg.MinStop <= 0 {
		cfg.MinStop = 10
	}
	if cfg.MaxStop <= 0 {
		cfg.MaxStop = 90
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 5
	}
	return &LinReg{Base: NewBase("linreg"), cfg: cfg}
}

func (s *LinReg) OnSlowTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != models.Minute30 || len(bars) < s.cfg.Window {
		return
	}
	win := bars[len(bars)-s.cfg.Window:]
	slope, icpt := indicators.LinReg(win, indicators.Mid)
	line := slope*float64(len(win)-1) + icpt

	bid := m.Quote().Bid
	if models.Missing(bid) {
		bid = win[len(win)-1].Close.Bid
	}
	dev := bid - line

	var side models.Side
	switch {
	case dev > s.cfg.Threshold:
		side = models.SideSell
	case dev < -s.cfg.Threshold:
		side = models.SideBuy
	default:
		return
	}
	out.Emit(models.Signal{
		Name:      LinRegSlowOpen,
		Position:  side,
		Score:     models.ScoreOpen,
		Life:      1,
		Comment:   fmt.Sprintf("bid %.5f vs line %.5f", bid, line),
		Timestamp: win[len(win)-1].Time,
	})
}

func (s *LinReg) EntryGate(sig models.Signal, m Market, now time.Time) bool {
	return InSession(m.Epic(), now)
}

// Predict: stop is the widest true range of the last 14 bars, limit a quarter
// of the distance to the opposite extreme, capped.
func (s *LinReg) Predict(sig models.Signal, m Market) (models.Prediction, error) {
	bars := m.Bars(models.Minute30)
	if len(bars) < 15 {
		return models.Prediction{}, fmt.Errorf("%s linreg: %w", m.Epic(), ErrNotEnoughData)
	}
	bars = bars[len(bars)-15:]
	tr := indicators.TrueRange(bars, indicators.Mid)
	lo, hi := minMax(tr)
	stop := hi
	if math.Trunc(stop) <= s.cfg.MinStop || math.Trunc(stop) >= s.cfg.MaxStop {
		return models.Prediction{}, fmt.Errorf("%s linreg stop %.2f: %w", m.Epic(), stop, ErrBadStop)
	}

	bid := m.Quote().Bid
	var edge float64
	if sig.Position == models.SideBuy {
		edge, _ = minMax(indicators.Lows(bars, indicators.Mid))
	} else {
		_, edge = minMax(indicators.Highs(bars, indicators.Mid))
	}
	limit := math.Min(math.Trunc(math.Abs(edge-bid)/4), s.cfg.MaxLimit)

	p := models.NewPrediction(s.Name(), sig, stop, limit)
	p.ATRLow, p.ATRMax = lo, hi
	return p, nil
}
