package telegram

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"auto_ig/internal/modules/config"
	health "auto_ig/internal/modules/health/service"
	"auto_ig/internal/modules/telegram_bot/service"
	"auto_ig/internal/signals"
	"auto_ig/internal/trades"
)

func Module() fx.Option {
	return fx.Module("telegram",
		// Без токена уведомления выключены, провайдер отдаёт nil.
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger, mgr *trades.Manager, sigs *signals.Registry, st *health.State) (*service.Telegram, error) {
				if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
					log.Info("telegram is not configured")
					return nil, nil
				}
				return service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log, mgr, sigs, st)
			},
		),
		// Запуск основного цикла через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram, mgr *trades.Manager) {
				if t == nil {
					return
				}
				mgr.AddListener(t)
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						t.Start(ctx)
						return nil
					},
					OnStop: func(context.Context) error {
						t.Stop()
						cancel()
						return nil
					},
				})
			},
		),
	)
}
