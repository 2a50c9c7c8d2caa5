package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"auto_ig/internal/modules/config"
	"auto_ig/internal/modules/postgres/service"
	"auto_ig/pkg/db"
)

// Module поднимает пул и историю сделок. Без db_dsn история выключена
// и провайдер отдаёт nil.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*service.TradeHistory, error) {
				if cfg.DB == "" {
					log.Info("db_dsn is empty, trade history disabled")
					return nil, nil
				}
				ctx := context.Background()
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				tm := db.NewPgTxManager(poolMaster)
				history := service.NewTradeHistory(tm, log, 0)

				runCtx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go history.Run(runCtx)
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						tm.Close()
						return nil
					},
				})
				return history, nil
			},
		),
	)
}
