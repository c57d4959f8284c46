package config

import "go.uber.org/fx"

// Module регистрирует конфиг как fx-провайдер. Args должны быть поставлены через fx.Supply.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
