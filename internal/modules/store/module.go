package store

import (
	"context"

	"threshold_bot/internal/modules/config"
	"threshold_bot/internal/modules/store/service"
	"threshold_bot/pkg/db"
	"threshold_bot/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Ctx context.Context
	Cfg *config.Config
	DB  *db.PgTxManager `optional:"true"`
}

// NewStore выбирает бэкенд по store.backend.
func NewStore(p Params) (service.Store, error) {
	switch p.Cfg.Store.Backend {
	case config.BackendPostgres:
		if p.DB == nil {
			return nil, errors.New("store.backend=postgres but database is not configured")
		}
		pg := service.NewPg(p.DB, p.Cfg.Pair)
		if err := pg.Migrate(p.Ctx); err != nil {
			return nil, errors.Wrap(err, "migrate bot_state")
		}
		logger.Info("State store: postgres (bot_state, pair=%s)", p.Cfg.Pair)
		return pg, nil
	default:
		logger.Info("State store: file %s", p.Cfg.Paths.StateFile)
		return service.NewFile(p.Cfg.Paths.StateFile, p.Cfg.Location()), nil
	}
}

func Module() fx.Option {
	return fx.Module("store",
		fx.Provide(
			NewStore,
		),
	)
}
