package service

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

type Account struct {
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType"`
	Preferred   bool   `json:"preferred"`
	Balance     struct {
		Balance    float64 `json:"balance"`
		Available  float64 `json:"available"`
		ProfitLoss float64 `json:"profitLoss"`
	} `json:"balance"`
}

// GetAccountBalance returns the balance of the session account, or of the
// first account of the configured type.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	s, err := c.Authenticate(ctx)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.do(ctx, call{op: "accounts", method: http.MethodGet, path: "/accounts", version: "1"}, &resp); err != nil {
		return 0, err
	}
	var pick *Account
	for i := range resp.Accounts {
		a := &resp.Accounts[i]
		if a.AccountID == s.AccountID {
			pick = a
			break
		}
		if pick == nil && a.AccountType == c.cfg.AccountType {
			pick = a
		}
	}
	if pick == nil {
		return 0, errors.Errorf("accounts: no %s account", c.cfg.AccountType)
	}
	return pick.Balance.Balance, nil
}
