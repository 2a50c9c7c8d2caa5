package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

const snapshotLayout = "2006/01/02 15:04:05"

type pricePoint struct {
	Bid *float64 `json:"bid"`
	Ask *float64 `json:"ask"`
}

func (p pricePoint) price() models.Price {
	return models.NewPrice(deref(p.Bid), deref(p.Ask))
}

type priceBar struct {
	SnapshotTime     string     `json:"snapshotTime"`
	SnapshotTimeUTC  string     `json:"snapshotTimeUTC"`
	OpenPrice        pricePoint `json:"openPrice"`
	HighPrice        pricePoint `json:"highPrice"`
	LowPrice         pricePoint `json:"lowPrice"`
	ClosePrice       pricePoint `json:"closePrice"`
	LastTradedVolume float64    `json:"lastTradedVolume"`
}

// Allowance is the historical data quota left after a request.
type Allowance struct {
	Remaining int `json:"remainingAllowance"`
	Total     int `json:"totalAllowance"`
	ExpirySec int `json:"allowanceExpiry"`
}

type pricesResponse struct {
	Prices    []priceBar `json:"prices"`
	Allowance Allowance  `json:"allowance"`
}

// GetPriceHistory returns the last count bars of tf, oldest first. A side the
// broker sent as null is left zero for the series repair.
func (c *Client) GetPriceHistory(ctx context.Context, epic string, tf models.Timeframe, count int) ([]models.Bar, error) {
	bars, _, err := c.PriceHistory(ctx, epic, tf, count)
	return bars, err
}

func (c *Client) PriceHistory(ctx context.Context, epic string, tf models.Timeframe, count int) ([]models.Bar, Allowance, error) {
	if !tf.Valid() || count <= 0 {
		return nil, Allowance{}, errors.Errorf("prices: bad request %s x%d", tf, count)
	}
	var resp pricesResponse
	path := fmt.Sprintf("/prices/%s/%s/%d", url.PathEscape(epic), tf, count)
	if err := c.do(ctx, call{op: "prices", method: "GET", path: path, version: "2"}, &resp); err != nil {
		return nil, Allowance{}, err
	}

	out := make([]models.Bar, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		at, err := parseSnapshotTime(p)
		if err != nil {
			c.log.Warn("bar with unreadable time skipped", zap.String("epic", epic), zap.Error(err))
			continue
		}
		out = append(out, models.Bar{
			Time:   at,
			Open:   p.OpenPrice.price(),
			High:   p.HighPrice.price(),
			Low:    p.LowPrice.price(),
			Close:  p.ClosePrice.price(),
			Volume: p.LastTradedVolume,
		})
	}

	a := resp.Allowance
	c.log.Info("price allowance",
		zap.String("epic", epic),
		zap.String("tf", string(tf)),
		zap.Int("bars", len(out)),
		zap.Int("remaining", a.Remaining),
		zap.Int("total", a.Total),
		zap.Duration("resets_in", time.Duration(a.ExpirySec)*time.Second),
	)
	return out, a, nil
}

func parseSnapshotTime(p priceBar) (time.Time, error) {
	if p.SnapshotTimeUTC != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", p.SnapshotTimeUTC); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range []string{snapshotLayout, "2006:01:02-15:04:05"} {
		if t, err := time.Parse(layout, p.SnapshotTime); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("snapshot time %q", p.SnapshotTime)
}
