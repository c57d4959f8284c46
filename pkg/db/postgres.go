package db

import (
	"context"
	"fmt"

	"threshold_bot/pkg/logger"
	"threshold_bot/pkg/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transaction — то, что видит fn внутри транзакции (pgx.Tx или пул).
type Transaction interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TxFunc func(ctxTx context.Context, tx Transaction) error

type TxManager interface {
	RunMaster(ctx context.Context, fn TxFunc) error
	RunRepeatableRead(ctx context.Context, fn TxFunc) error
}

type PoolConfig struct {
	DSN      string
	MaxConns int32
}

type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

// Open поднимает пул и проверяет соединение.
func Open(ctx context.Context, conf PoolConfig) (*PgTxManager, error) {
	cfg, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		cfg.MaxConns = conf.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPgTxManager(pool), nil
}

func (m *PgTxManager) Close() {
	m.pool.Close()
}

// RunMaster — запись, read committed.
func (m *PgTxManager) RunMaster(ctx context.Context, fn TxFunc) error {
	return m.inTx(ctx, "db.master", pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// RunRepeatableRead — только чтение.
func (m *PgTxManager) RunRepeatableRead(ctx context.Context, fn TxFunc) error {
	return m.inTx(ctx, "db.read", pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (m *PgTxManager) inTx(ctx context.Context, op string, options pgx.TxOptions, fn TxFunc) (err error) {
	ctx, finish := tracing.Start(ctx, op)
	defer func() { finish(err) }()

	tx, err := m.pool.BeginTx(ctx, options)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic in %s: %v", op, p)
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	if err = fn(ctx, tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Migrate выполняет DDL одной транзакцией.
func Migrate(ctx context.Context, m TxManager, stmts ...string) error {
	return m.RunMaster(ctx, func(ctxTx context.Context, tx Transaction) error {
		for _, s := range stmts {
			if _, err := tx.Exec(ctxTx, s); err != nil {
				return err
			}
		}
		return nil
	})
}
