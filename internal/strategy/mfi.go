package strategy

import (
	"sync"

	"auto_ig/internal/indicators"
	"auto_ig/internal/models"
)

const MFIFastOpen = "MFI_FAST_OPEN"

type MFIConfig struct {
	Fast       int `yaml:"fast"` // MFI length on MINUTE_5
	Slow       int `yaml:"slow"` // MFI length on MINUTE_30
	SmoothSlow int `yaml:"smooth_slow"`
}

// MFI: money flow, smoothed money flow and a double WMA must all agree with
// the main direction (MINUTE_30 MFI SMA + WMA23 + day WMA14).
type MFI struct {
	Base
	cfg MFIConfig

	mu      sync.Mutex
	mainDir map[string]models.Side
}

func NewMFI(cfg MFIConfig) *MFI {
	if cfg.Fast <= 0 {
		cfg.Fast = 12
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 12
	}
	if cfg.SmoothSlow <= 0 {
		cfg.SmoothSlow = 6
	}
	return &MFI{Base: NewBase("mfi"), cfg: cfg, mainDir: make(map[string]models.Side)}
}

// Direction returns the main direction computed on the last fast hook.
func (s *MFI) Direction(epic string) models.Side {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainDir[epic]
}

func (s *MFI) OnFastTimeframe(m Market, bars []models.Bar, tf models.Timeframe, out Emitter) {
	if tf != models.Minute5 || len(bars) < 2 {
		return
	}
	main := s.direction(m)
	s.mu.Lock()
	s.mainDir[m.Epic()] = main
	s.mu.Unlock()
	if main == models.SideNone {
		return
	}

	mfi := indicators.MFI(bars, s.cfg.Fast, indicators.Mid)
	sm := indicators.SMA(mfi, 5)
	wma := indicators.WMA(indicators.WMABars(bars, 12, indicators.Mid), 5)
	if len(sm) < 2 || len(wma) < 2 {
		return
	}

	if direction(mfi) == main && direction(sm) == main && direction(wma) == main {
		comment := "market is going up"
		if main == models.SideSell {
			comment = "market is going down"
		}
		out.Emit(models.Signal{
			Name:      MFIFastOpen,
			Position:  main,
			Score:     models.ScoreOpen,
			Life:      1,
			Comment:   comment,
			Timestamp: bars[len(bars)-1].Time,
		})
	}
}

func (s *MFI) direction(m Market) models.Side {
	slow := m.Bars(models.Minute30)
	mfi := indicators.MFI(slow, s.cfg.Slow, indicators.Mid)
	sm := direction(indicators.SMA(mfi, s.cfg.SmoothSlow))
	wma := direction(indicators.WMA(indicators.Closes(slow, indicators.Mid), 23))
	day := direction(indicators.WMA(indicators.Closes(m.Bars(models.Day), indicators.Mid), 14))
	if sm != models.SideNone && sm == wma && wma == day {
		return sm
	}
	return models.SideNone
}

// Predict: stop from half the daily ATR14 plus 2 spreads, limit 2*ATR14 of MINUTE_5.
func (s *MFI) Predict(sig models.Signal, m Market) (models.Prediction, error) {
	p, err := ATRPrediction(s.Name(), sig, m, ATRRule{
		Timeframe: models.Minute5,
		Period:    14,
		StopATR:   1,
		LimitATR:  2,
		Ceil:      true,
	})
	if err != nil {
		return p, err
	}
	day, err := ATRPrediction(s.Name(), sig, m, ATRRule{
		Timeframe:  models.Day,
		Period:     14,
		StopATR:    0.5,
		StopSpread: 2,
		LimitATR:   1,
		Ceil:       true,
	})
	if err != nil {
		return p, err
	}
	p.StopLoss = day.StopLoss
	return p, nil
}
