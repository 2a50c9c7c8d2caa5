package broker

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"auto_ig/internal/modules/broker/service"
	"auto_ig/internal/modules/config"
	metrics "auto_ig/internal/modules/metrics/service"
	"auto_ig/internal/orchestrator"
	"auto_ig/internal/trades"
)

func NewClient(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *service.Client {
	c := service.NewClient(cfg.IG, log)
	c.SetObserver(m)
	return c
}

// Module поднимает клиента IG и логинится на старте; без сессии торговать нечем.
func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(
			NewClient,
			func(c *service.Client) trades.Broker { return c },
			func(c *service.Client) orchestrator.Broker { return c },
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					s, err := c.Authenticate(ctx)
					if err != nil {
						return errors.Wrap(err, "broker login")
					}
					log.Info("broker session ready", zap.String("account", s.AccountID))
					return nil
				},
			})
		}),
	)
}
