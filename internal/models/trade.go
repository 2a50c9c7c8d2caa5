package models

import "time"

type TradeState string

const (
	TradeWaiting TradeState = "WAITING"
	TradePending TradeState = "PENDING"
	TradeOpen    TradeState = "OPEN"
	TradeClosed  TradeState = "CLOSED"
	TradeFailed  TradeState = "FAILED"
)

func (s TradeState) Terminal() bool { return s == TradeClosed || s == TradeFailed }

// StatusEntry is one line of the append-only trade status log.
type StatusEntry struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// TradeRecord: persisted snapshot of a trade.
type TradeRecord struct {
	ID             string        `json:"id"`
	Epic           string        `json:"market"`
	Size           float64       `json:"size_value"`
	Prediction     Prediction    `json:"prediction"`
	DealReference  string        `json:"deal_reference,omitempty"`
	DealID         string        `json:"deal_id"`
	State          TradeState    `json:"state"`
	CreatedAt      time.Time     `json:"created_time"`
	ExpiresAt      time.Time     `json:"expiry_time"`
	OpenedAt       *time.Time    `json:"opened_time,omitempty"`
	ClosedAt       *time.Time    `json:"closed_time,omitempty"`
	OpenLevel      float64       `json:"open_level"`
	PipDiff        float64       `json:"pip_diff"`
	PipMax         float64       `json:"pip_max"`
	PipMin         float64       `json:"pip_min"`
	ProfitLoss     float64       `json:"profit_loss"`
	TrailingLevel  float64       `json:"trailing_level"`
	TrailingActive bool          `json:"trailing_stop"`
	Overtime       bool          `json:"overtime"`
	LimitDistance  float64       `json:"limit_distance"`
	StopDistance   float64       `json:"stop_distance"`
	StopBumps      int           `json:"stop_bumps"`
	CloseReason    string        `json:"close_reason,omitempty"`
	StatusLog      []StatusEntry `json:"status_log"`
	SavedAt        time.Time     `json:"last_saved"`
}
