package postgres

import (
	"context"
	"fmt"

	"threshold_bot/internal/modules/config"
	"threshold_bot/pkg/db"
	"threshold_bot/pkg/logger"

	"go.uber.org/fx"
)

// NewTxManager отдаёт nil, если db_dsn не задан: postgres у бота опционален.
func NewTxManager(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		return nil, nil
	}
	m, err := db.Open(ctx, db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	logger.Info("Postgres connected")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			m.Close()
			return nil
		},
	})
	return m, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewTxManager,
		),
	)
}
