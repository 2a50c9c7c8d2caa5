package strategy

import (
	"fmt"
	"sync"
	"time"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const EMARSIOpen = "EMARSI_OPEN"

type EMARSIConfig struct {
	Timeframe     models.Timeframe `yaml:"timeframe"`
	EMAShort      int              `yaml:"ema_short"`
	EMALong       int              `yaml:"ema_long"`
	RSIPeriod     int              `yaml:"rsi_period"`
	RSIOverbought float64          `yaml:"rsi_overbought"`
	RSIOversold   float64          `yaml:"rsi_oversold"`
}

// EMARSI buys pullbacks (RSI oversold) while the short EMA is above the long
// one and sells the mirror.
type EMARSI struct {
	Base
	cfg EMARSIConfig

	mu    sync.Mutex
	state map[string]*emarsiState
}

type emarsiState struct {
	emaShort, emaLong, rsi float64
	seen time.Time
}

func NewEMARSI(cfg EMARSIConfig) *EMARSI {
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.Minute30
	}
	if cfg.EMAShort <= 0 {
		cfg.EMAShort = indicators.FastEMA
	}
	if cfg.EMALong <= 0 {
		cfg.EMALong = indicators.SlowEMA
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = indicators.RSIPeriod
	}
	if cfg.RSIOverbought <= 0 {
		cfg.RSIOverbought = 70
	}
	if cfg.RSIOversold <= 0 {
		cfg.RSIOversold = 30
	}
	return &EMARSI{Base: NewBase("emarsi"), cfg: cfg, state: make(map[string]*emarsiState)}
}

func (s *EMARSI) OnSlowTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != s.cfg.Timeframe || len(bars) <= s.cfg.RSIPeriod {
		return
	}
	closes := indicators.Closes(bars, indicators.Mid)
	short := indicators.Last(indicators.EMA(closes, s.cfg.EMAShort))
	long := indicators.Last(indicators.EMA(closes, s.cfg.EMALong))
	rsi := indicators.Last(indicators.RSI(closes, s.cfg.RSIPeriod))
	now := bars[len(bars)-1]

	s.mu.Lock()
	st := s.state[m.Epic()]
	if st == nil {
		st = &emarsiState{}
		s.state[m.Epic()] = st
	}
	fresh := now.Time.After(st.seen)
	st.emaShort, st.emaLong, st.rsi, st.seen = short, long, rsi, now.Time
	s.mu.Unlock()
	if !fresh {
		return
	}

	var side models.Side
	switch {
	case short > long && rsi < s.cfg.RSIOversold:
		side = models.SideBuy
	case short < long && rsi > s.cfg.RSIOverbought:
		side = models.SideSell
	default:
		return
	}
	out.Emit(models.Signal{
		Name:      EMARSIOpen,
		Position:  side,
		Score:     models.ScoreOpen,
		Life:      1,
		Comment:   fmt.Sprintf("ema%d=%.5f ema%d=%.5f rsi=%.1f", s.cfg.EMAShort, short, s.cfg.EMALong, long, rsi),
		Timestamp: now.Time,
	})
}

func (s *EMARSI) Dump(epic string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[epic]
	if !ok {
		return "EMARSI: warmup"
	}
	return fmt.Sprintf("EMA_S=%.4f EMA_L=%.4f RSI=%.1f", st.emaShort, st.emaLong, st.rsi)
}
