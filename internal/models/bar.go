package models

import (
	"math"
	"time"
)

// Price is one OHLC component on both sides of the book.
type Price struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	Mid float64 `json:"mid"`
}

func NewPrice(bid, ask float64) Price {
	return Price{Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
}

// Missing reports a side the broker sent as null or zero.
func Missing(v float64) bool { return v == 0 || math.IsNaN(v) }

// Bar is one OHLC+volume record of a timeframe. Indicators are written back by
// the indicator functions under stable keys ("ema_8", "rsi_14", ...).
type Bar struct {
	Time       time.Time          `json:"time"`
	Open       Price              `json:"open"`
	High       Price              `json:"high"`
	Low        Price              `json:"low"`
	Close      Price              `json:"close"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Set annotates the bar, allocating the map on first use. Non-finite values are dropped.
func (b *Bar) Set(key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if b.Indicators == nil {
		b.Indicators = make(map[string]float64, 8)
	}
	b.Indicators[key] = v
}

func (b Bar) Get(key string) (float64, bool) {
	v, ok := b.Indicators[key]
	return v, ok
}

// Clone copies the indicator map so the caller can't mutate a stored bar.
func (b Bar) Clone() Bar {
	if b.Indicators != nil {
		m := make(map[string]float64, len(b.Indicators))
		for k, v := range b.Indicators {
			m[k] = v
		}
		b.Indicators = m
	}
	return b
}

// Tick is one push-feed update. OHLC/volume describe the finest bar so far.
type Tick struct {
	Epic   string
	Time   time.Time
	Open   Price
	High   Price
	Low    Price
	Close  Price
	Volume float64
}

// Quote: instrument snapshot as returned by the market endpoint.
type Quote struct {
	Epic             string    `json:"epic"`
	Bid              float64   `json:"bid"`
	Offer            float64   `json:"offer"`
	Spread           float64   `json:"spread"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	NetChange        float64   `json:"net_change"`
	PercentageChange float64   `json:"percentage_change"`
	Status           string    `json:"status"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const (
	StatusTradeable = "TRADEABLE"
	StatusClosed    = "CLOSED"
	StatusSuspended = "SUSPENDED"
)

func (q Quote) Tradeable() bool { return q.Status == "" || q.Status == StatusTradeable }
