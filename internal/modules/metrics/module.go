package metrics

import (
	"go.uber.org/fx"

	"auto_ig/internal/modules/metrics/service"
)

func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(service.New),
	)
}
