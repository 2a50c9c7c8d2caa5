package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"auto_ig/internal/models"
)

type marketDetails struct {
	Instrument struct {
		Epic string `json:"epic"`
		Name string `json:"name"`
	} `json:"instrument"`
	Snapshot struct {
		Bid              *float64 `json:"bid"`
		Offer            *float64 `json:"offer"`
		High             *float64 `json:"high"`
		Low              *float64 `json:"low"`
		NetChange        float64  `json:"netChange"`
		PercentageChange float64  `json:"percentageChange"`
		MarketStatus     string   `json:"marketStatus"`
	} `json:"snapshot"`
}

func (m marketDetails) quote(now time.Time) models.Quote {
	q := models.Quote{
		Epic:             m.Instrument.Epic,
		Bid:              deref(m.Snapshot.Bid),
		Offer:            deref(m.Snapshot.Offer),
		High:             deref(m.Snapshot.High),
		Low:              deref(m.Snapshot.Low),
		NetChange:        m.Snapshot.NetChange,
		PercentageChange: m.Snapshot.PercentageChange,
		Status:           m.Snapshot.MarketStatus,
		UpdatedAt:        now,
	}
	if q.Bid > 0 && q.Offer > 0 {
		q.Spread = q.Offer - q.Bid
	}
	return q
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func (c *Client) GetMarketSnapshot(ctx context.Context, epic string) (models.Quote, error) {
	var m marketDetails
	err := c.do(ctx, call{op: "market", method: "GET", path: "/markets/" + url.PathEscape(epic), version: "3"}, &m)
	if err != nil {
		return models.Quote{}, err
	}
	if m.Instrument.Epic == "" {
		m.Instrument.Epic = epic
	}
	return m.quote(time.Now().UTC()), nil
}

// GetMarketSnapshots fetches up to 50 epics in one request.
func (c *Client) GetMarketSnapshots(ctx context.Context, epics []string) ([]models.Quote, error) {
	if len(epics) == 0 {
		return nil, nil
	}
	if len(epics) > 50 {
		return nil, errors.Errorf("markets: %d epics, at most 50 per request", len(epics))
	}
	var resp struct {
		MarketDetails []marketDetails `json:"marketDetails"`
	}
	path := "/markets?epics=" + url.QueryEscape(strings.Join(epics, ","))
	if err := c.do(ctx, call{op: "markets", method: "GET", path: path, version: "2"}, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]models.Quote, 0, len(resp.MarketDetails))
	for _, m := range resp.MarketDetails {
		out = append(out, m.quote(now))
	}
	return out, nil
}
