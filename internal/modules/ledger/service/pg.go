package service

import (
	"context"
	"fmt"

	"threshold_bot/internal/models"
	"threshold_bot/pkg/db"
)

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id             BIGSERIAL PRIMARY KEY,
	ts             TIMESTAMPTZ NOT NULL,
	pair           TEXT NOT NULL,
	side           TEXT NOT NULL,
	qty_base       DOUBLE PRECISION NOT NULL,
	price_quote    DOUBLE PRECISION NOT NULL,
	notional_quote DOUBLE PRECISION NOT NULL,
	pnl_quote      DOUBLE PRECISION NULL,
	order_ref      TEXT NOT NULL DEFAULT ''
)`

const insertTrade = `
INSERT INTO trades (ts, pair, side, qty_base, price_quote, notional_quote, pnl_quote, order_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Pg — зеркало журнала в таблице trades.
type Pg struct {
	db db.TxManager
}

func NewPg(txm db.TxManager) *Pg {
	return &Pg{db: txm}
}

func (p *Pg) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, p.db, tradesSchema)
}

func (p *Pg) Append(ctx context.Context, t models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Append: %w", err)
		}
	}()

	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, insertTrade,
			t.Time, t.Pair, string(t.Side), t.Qty, t.Price, t.Notional(), t.PnL, t.OrderRef)
		return err
	})
}
