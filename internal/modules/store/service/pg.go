package service

import (
	"context"
	"errors"
	"fmt"

	"threshold_bot/internal/models"
	"threshold_bot/pkg/db"

	"github.com/jackc/pgx/v5"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS bot_state (
	pair            TEXT PRIMARY KEY,
	position_qty    DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_price     DOUBLE PRECISION NULL,
	session_high    DOUBLE PRECISION NULL,
	last_sell_price DOUBLE PRECISION NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectState = `SELECT position_qty, entry_price, session_high, last_sell_price FROM bot_state WHERE pair = $1`
	upsertState = `
INSERT INTO bot_state (pair, position_qty, entry_price, session_high, last_sell_price, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (pair) DO UPDATE SET
	position_qty    = EXCLUDED.position_qty,
	entry_price     = EXCLUDED.entry_price,
	session_high    = EXCLUDED.session_high,
	last_sell_price = EXCLUDED.last_sell_price,
	updated_at      = EXCLUDED.updated_at`
)

// Pg — состояние в таблице bot_state, одна строка на пару.
type Pg struct {
	db   db.TxManager
	pair string
}

func NewPg(txm db.TxManager, pair string) *Pg {
	return &Pg{db: txm, pair: pair}
}

func (p *Pg) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, p.db, stateSchema)
}

func (p *Pg) Load(ctx context.Context) (st *models.StrategyState, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Load: %w", err)
		}
	}()

	err = p.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		var out models.StrategyState
		scanErr := tx.QueryRow(ctxTx, selectState, p.pair).
			Scan(&out.PositionQty, &out.EntryPrice, &out.SessionHigh, &out.LastSellPrice)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		st = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (p *Pg) Save(ctx context.Context, st models.StrategyState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Save: %w", err)
		}
	}()

	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertState,
			p.pair, st.PositionQty, st.EntryPrice, st.SessionHigh, st.LastSellPrice)
		return err
	})
}
