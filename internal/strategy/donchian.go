package strategy

import (
	"fmt"
	"sync"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const DonchianBreakout = "DONCHIAN_BREAKOUT"

// DonchianConfig: channel length and EMA trend filter.
type DonchianConfig struct {
	Timeframe models.Timeframe `yaml:"timeframe"`
	Period    int              `yaml:"period"`     // channel, e.g. 20
	TrendEma  int              `yaml:"trend_ema"`  // filter, e.g. 50
	MinWarmup int              `yaml:"min_warmup"` // bars before the first signal; defaults to max(Period, TrendEma)
}

// Donchian: channel breakout in the direction of the EMA.
type Donchian struct {
	Base
	cfg DonchianConfig

	mu    sync.Mutex
	state map[string]*symbolState
}

type symbolState struct {
	high, low, ema float64
	lastSignal models.Side
}

func NewDonchian(cfg DonchianConfig) *Donchian {
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.Minute30
	}
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.TrendEma <= 0 {
		cfg.TrendEma = 50
	}
	if cfg.MinWarmup <= 0 {
		cfg.MinWarmup = max(cfg.Period, cfg.TrendEma)
	}
	return &Donchian{Base: NewBase("donchian"), cfg: cfg, state: make(map[string]*symbolState)}
}

func (s *Donchian) get(epic string) *symbolState {
	if st, ok := s.state[epic]; ok {
		return st
	}
	st := &symbolState{}
	s.state[epic] = st
	return st
}

func (s *Donchian) OnSlowTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	// the channel excludes the bar under test
	if tf != s.cfg.Timeframe || len(bars) <= s.cfg.MinWarmup || len(bars) <= s.cfg.Period {
		return
	}
	now := bars[len(bars)-1]
	window := bars[len(bars)-1-s.cfg.Period : len(bars)-1]
	dh := maxSlice(indicators.Highs(window, indicators.Mid))
	dl := minSlice(indicators.Lows(window, indicators.Mid))
	ema := indicators.Last(indicators.EMA(indicators.Closes(bars, indicators.Mid), s.cfg.TrendEma))
	c := now.Close.Mid

	var (
		side   models.Side
		reason string
	)
	switch {
	case c > dh && c > ema:
		side = models.SideBuy
		reason = fmt.Sprintf("breakout up: close=%.5f > dh=%.5f & ema=%.5f", c, dh, ema)
	case c < dl && c < ema:
		side = models.SideSell
		reason = fmt.Sprintf("breakout down: close=%.5f < dl=%.5f & ema=%.5f", c, dl, ema)
	}

	s.mu.Lock()
	st := s.get(m.Epic())
	st.high, st.low, st.ema = dh, dl, ema
	if side != models.SideNone {
		st.lastSignal = side
	}
	s.mu.Unlock()

	if side == models.SideNone {
		return
	}
	out.Emit(models.Signal{
		Name:      DonchianBreakout,
		Position:  side,
		Score:     models.ScoreOpen,
		Life:      1,
		Comment:   reason,
		Timestamp: now.Time,
	})
}

// Dump: channel state for logs and the control API.
func (s *Donchian) Dump(epic string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[epic]
	if !ok {
		return "Donchian: warmup"
	}
	return fmt.Sprintf("Donchian[period=%d] H=%.5f L=%.5f EMA%d=%.5f last=%s",
		s.cfg.Period, st.high, st.low, s.cfg.TrendEma, st.ema, st.lastSignal)
}

func maxSlice(xs []float64) float64 {
	_, hi := minMax(xs)
	return hi
}

func minSlice(xs []float64) float64 {
	lo, _ := minMax(xs)
	return lo
}
