package engine

import (
	"context"

	"threshold_bot/internal/modules/config"
	"threshold_bot/internal/modules/engine/service"
	exchange "threshold_bot/internal/modules/exchange/service"
	ledger "threshold_bot/internal/modules/ledger/service"
	store "threshold_bot/internal/modules/store/service"
	"threshold_bot/internal/notify"

	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Ctx      context.Context
	Cfg      *config.Config
	Gateway  exchange.Gateway
	Store    store.Store
	Ledger   ledger.Ledger
	Notifier notify.Notifier
}

func NewEngine(p Params) *service.Engine {
	return service.New(p.Ctx, service.Params{
		Pair:           p.Cfg.Pair,
		BaseAsset:      p.Cfg.BaseAsset,
		QuoteAsset:     p.Cfg.QuoteAsset,
		DropPct:        p.Cfg.Strategy.DropPct,
		RisePct:        p.Cfg.Strategy.RisePct,
		MinTrade:       p.Cfg.Strategy.MinTrade,
		MaxPosition:    p.Cfg.Strategy.MaxPosition,
		TradingEnabled: p.Cfg.Trading.Enabled,
		Location:       p.Cfg.Location(),
	}, p.Gateway, p.Store, p.Ledger, p.Notifier)
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewEngine,
		),
	)
}
