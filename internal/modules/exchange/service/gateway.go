package service

import (
	"context"
	"strings"
	"time"

	"threshold_bot/internal/models"
)

// Gateway — то, что движок ждёт от биржи.
type Gateway interface {
	Price(ctx context.Context) (float64, error)
	Balances(ctx context.Context) (models.Balances, error)
	MarketBuy(ctx context.Context, notionalQuote float64) (models.OrderRef, error)
	MarketSell(ctx context.Context, qtyBase float64) (models.OrderRef, error)
}

// PriceSource — только цена (REST тикер или ws-фид).
type PriceSource interface {
	Price(ctx context.Context) (float64, error)
}

// assetAliases: Kraken отдаёт старые коды с префиксами X/Z (XXMR, ZUSD) и новые без них.
func assetAliases(asset string) []string {
	a := strings.ToUpper(asset)
	out := []string{a, "X" + a, "Z" + a}
	switch a {
	case "BTC", "XBT":
		out = append(out, "XBT", "XXBT")
	case "DOGE", "XDG":
		out = append(out, "XDG", "XXDG")
	}
	return dedup(out)
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// FeedGateway подменяет цену на ws-фид, пока тот свежий, иначе уходит в REST.
type FeedGateway struct {
	Gateway
	feed       *TickerFeed
	staleAfter time.Duration
}

func NewFeedGateway(gw Gateway, feed *TickerFeed, staleAfter time.Duration) *FeedGateway {
	return &FeedGateway{Gateway: gw, feed: feed, staleAfter: staleAfter}
}

func (g *FeedGateway) Price(ctx context.Context) (float64, error) {
	if p, ok := g.feed.Fresh(g.staleAfter); ok {
		return p, nil
	}
	return g.Gateway.Price(ctx)
}
