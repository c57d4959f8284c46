package exchange

import (
	"context"

	"threshold_bot/internal/modules/config"
	"threshold_bot/internal/modules/exchange/service"
	"threshold_bot/pkg/logger"

	"go.uber.org/fx"
)

func NewKrakenClient(cfg *config.Config) *service.KrakenClient {
	return service.NewKrakenClient(service.KrakenConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		Pair:       cfg.Pair,
		BaseAsset:  cfg.BaseAsset,
		QuoteAsset: cfg.QuoteAsset,
		Timeout:    cfg.Exchange.Timeout,
	})
}

// NewTickerFeed возвращает nil, если цена берётся из REST.
func NewTickerFeed(lc fx.Lifecycle, cfg *config.Config) *service.TickerFeed {
	if cfg.Exchange.PriceSource != config.PriceSourceWS {
		return nil
	}
	feed := service.NewTickerFeed(cfg.Exchange.WSURL, cfg.Exchange.WSSymbol)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				feed.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return feed
}

// NewGateway собирает шлюз по exchange.driver и price_source.
func NewGateway(cfg *config.Config, kraken *service.KrakenClient, feed *service.TickerFeed) service.Gateway {
	var live service.Gateway = kraken
	if feed != nil {
		live = service.NewFeedGateway(kraken, feed, cfg.Exchange.WSStaleAfter)
	}

	if cfg.Exchange.Driver == config.DriverPaper {
		logger.Info("Exchange driver: paper (quote=%.2f, base=%.8f)", cfg.Paper.QuoteBalance, cfg.Paper.BaseBalance)
		// цена живая, ордера и балансы бумажные
		return service.NewPaper(live, cfg.Paper.QuoteBalance, cfg.Paper.BaseBalance)
	}
	logger.Info("Exchange driver: kraken %s (price source: %s)", cfg.Pair, cfg.Exchange.PriceSource)
	return live
}

func Module() fx.Option {
	return fx.Module("exchange",
		fx.Provide(
			NewKrakenClient,
			NewTickerFeed,
			NewGateway,
		),
	)
}
