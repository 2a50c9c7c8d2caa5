package trades

import (
	"context"

	"auto_ig/internal/models"
)

// Broker covers the order operations the manager needs. The IG client implements it.
type Broker interface {
	OpenPosition(ctx context.Context, req models.OpenRequest) (dealRef string, err error)
	ConfirmDeal(ctx context.Context, dealRef string) (models.Confirmation, error)
	// GetPosition returns models.ErrPositionNotFound when the deal is gone.
	GetPosition(ctx context.Context, dealID string) (models.Position, error)
	ClosePosition(ctx context.Context, req models.CloseRequest) error
}
