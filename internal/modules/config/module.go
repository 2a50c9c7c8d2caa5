package config

import "go.uber.org/fx"

// Module регистрирует конфиг и его секции как fx-провайдеры.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
