package service

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"auto_ig/internal/models"
)

type openBody struct {
	Epic           string  `json:"epic"`
	Direction      string  `json:"direction"`
	Size           float64 `json:"size"`
	OrderType      string  `json:"orderType"`
	Expiry         string  `json:"expiry"`
	CurrencyCode   string  `json:"currencyCode"`
	ForceOpen      bool    `json:"forceOpen"`
	GuaranteedStop bool    `json:"guaranteedStop"`
	StopDistance   float64 `json:"stopDistance,omitempty"`
	LimitDistance  float64 `json:"limitDistance,omitempty"`
}

// OpenPosition places a market order and returns its deal reference.
func (c *Client) OpenPosition(ctx context.Context, req models.OpenRequest) (string, error) {
	body := openBody{
		Epic:           req.Epic,
		Direction:      string(req.Direction),
		Size:           req.Size,
		OrderType:      "MARKET",
		Expiry:         c.cfg.Expiry,
		CurrencyCode:   c.cfg.Currency,
		ForceOpen:      true,
		GuaranteedStop: c.cfg.Guaranteed,
		StopDistance:   req.StopDistance,
		LimitDistance:  req.LimitDistance,
	}
	var resp struct {
		DealReference string `json:"dealReference"`
	}
	if err := c.do(ctx, call{op: "open", method: http.MethodPost, path: "/positions/otc", version: "2", body: body}, &resp); err != nil {
		return "", err
	}
	if resp.DealReference == "" {
		return "", errors.New("open: empty deal reference")
	}
	return resp.DealReference, nil
}

func (c *Client) ConfirmDeal(ctx context.Context, dealRef string) (models.Confirmation, error) {
	var resp struct {
		DealReference string   `json:"dealReference"`
		DealID        string   `json:"dealId"`
		DealStatus    string   `json:"dealStatus"`
		Reason        string   `json:"reason"`
		Level         *float64 `json:"level"`
	}
	if err := c.do(ctx, call{op: "confirm", method: http.MethodGet, path: "/confirms/" + url.PathEscape(dealRef), version: "1"}, &resp); err != nil {
		return models.Confirmation{}, err
	}
	return models.Confirmation{
		DealReference: resp.DealReference,
		DealID:        resp.DealID,
		Status:        resp.DealStatus,
		Reason:        resp.Reason,
		Level:         deref(resp.Level),
	}, nil
}

// GetPosition maps 400 and 404 to models.ErrPositionNotFound.
func (c *Client) GetPosition(ctx context.Context, dealID string) (models.Position, error) {
	var resp struct {
		Position struct {
			DealID    string  `json:"dealId"`
			Direction string  `json:"direction"`
			Size      float64 `json:"size"`
			Level     float64 `json:"level"`
		} `json:"position"`
		Market struct {
			Epic string `json:"epic"`
		} `json:"market"`
	}
	err := c.do(ctx, call{op: "position", method: http.MethodGet, path: "/positions/" + url.PathEscape(dealID), version: "2"}, &resp)
	if err != nil {
		if s := StatusOf(err); s == http.StatusNotFound || s == http.StatusBadRequest {
			return models.Position{}, errors.Wrap(models.ErrPositionNotFound, dealID)
		}
		return models.Position{}, err
	}
	return models.Position{
		DealID:    resp.Position.DealID,
		Epic:      resp.Market.Epic,
		Direction: models.Side(resp.Position.Direction),
		Size:      resp.Position.Size,
		OpenLevel: resp.Position.Level,
	}, nil
}

// ClosePosition closes dealID at market. A deal the broker no longer knows
// returns models.ErrPositionNotFound.
func (c *Client) ClosePosition(ctx context.Context, req models.CloseRequest) error {
	body := map[string]any{
		"dealId":    req.DealID,
		"direction": string(req.Direction),
		"size":      req.Size,
		"orderType": "MARKET",
	}
	err := c.do(ctx, call{op: "close", method: http.MethodPost, path: "/positions/otc", version: "1", body: body, override: http.MethodDelete}, nil)
	if s := StatusOf(err); s == http.StatusNotFound {
		return errors.Wrap(models.ErrPositionNotFound, req.DealID)
	}
	return err
}
