package service

import (
	"context"
	"sync"

	"threshold_bot/internal/metrics"
	"threshold_bot/internal/models"
	"threshold_bot/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Paper — бумажная биржа: живая цена, балансы в памяти, мгновенное исполнение по цене.
type Paper struct {
	prices PriceSource

	mu    sync.Mutex
	base  float64
	quote float64
}

func NewPaper(prices PriceSource, quote, base float64) *Paper {
	return &Paper{prices: prices, quote: quote, base: base}
}

func (p *Paper) Price(ctx context.Context) (float64, error) {
	return p.prices.Price(ctx)
}

func (p *Paper) Balances(_ context.Context) (models.Balances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.Balances{Base: p.base, Quote: p.quote}, nil
}

func (p *Paper) MarketBuy(ctx context.Context, notionalQuote float64) (models.OrderRef, error) {
	price, err := p.prices.Price(ctx)
	if err != nil || price <= 0 {
		return models.OrderRef{}, p.fail("buy", errors.New("no price for paper fill"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if notionalQuote <= 0 || notionalQuote > p.quote {
		return models.OrderRef{}, p.fail("buy", errors.Errorf("insufficient quote: want %.2f, have %.2f", notionalQuote, p.quote))
	}
	qty := notionalQuote / price
	p.quote -= notionalQuote
	p.base += qty
	ref := newPaperRef()
	logger.Info("PAPER BUY %.8f @ %.6f (%s)", qty, price, ref.Ref())
	return ref, nil
}

func (p *Paper) MarketSell(ctx context.Context, qtyBase float64) (models.OrderRef, error) {
	price, err := p.prices.Price(ctx)
	if err != nil || price <= 0 {
		return models.OrderRef{}, p.fail("sell", errors.New("no price for paper fill"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if qtyBase <= 0 || qtyBase > p.base+models.PositionEpsilon {
		return models.OrderRef{}, p.fail("sell", errors.Errorf("insufficient base: want %.8f, have %.8f", qtyBase, p.base))
	}
	p.base -= qtyBase
	if p.base < models.PositionEpsilon {
		p.base = 0
	}
	p.quote += qtyBase * price
	ref := newPaperRef()
	logger.Info("PAPER SELL %.8f @ %.6f (%s)", qtyBase, price, ref.Ref())
	return ref, nil
}

func (p *Paper) fail(side string, err error) error {
	metrics.IncExchangeError("paper_" + side)
	logger.Error("Paper %s rejected: %v", side, err)
	return err
}

func newPaperRef() models.OrderRef {
	id := uuid.NewString()
	return models.OrderRef{TxIDs: []string{"paper-" + id}, ClientOrderID: id}
}
