package ledger

import (
	"context"

	"threshold_bot/internal/modules/config"
	"threshold_bot/internal/modules/ledger/service"
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

// NewLedger: CSV всегда, postgres — если есть db_dsn, S3 — если задан bucket.
func NewLedger(p Params) (service.Ledger, error) {
	loc := p.Cfg.Location()
	csv := service.NewCSV(p.Cfg.Paths.TradesCSV, loc)
	ledgers := []service.Ledger{csv}
	logger.Info("Trade ledger: csv %s", csv.Path())

	if p.DB != nil {
		pg := service.NewPg(p.DB)
		if err := pg.Migrate(p.Ctx); err != nil {
			return nil, errors.Wrap(err, "migrate trades")
		}
		ledgers = append(ledgers, pg)
		logger.Info("Trade ledger: postgres mirror enabled")
	}

	if p.Cfg.S3.Bucket != "" {
		client, err := service.NewS3Client(p.Ctx, service.S3Config{
			Bucket:    p.Cfg.S3.Bucket,
			Region:    p.Cfg.S3.Region,
			Endpoint:  p.Cfg.S3.Endpoint,
			AccessKey: p.Cfg.S3.AccessKey,
			SecretKey: p.Cfg.S3.SecretKey,
			Prefix:    p.Cfg.S3.Prefix,
		})
		if err != nil {
			return nil, errors.Wrap(err, "s3 client")
		}
		archive := service.NewS3Archive(client, p.Cfg.S3.Bucket, p.Cfg.S3.Prefix, p.Cfg.Pair, csv.Path())
		ledgers = append(ledgers, archive)
		logger.Info("Trade ledger: s3 archive s3://%s/%s", p.Cfg.S3.Bucket, archive.Key())
	}

	return service.NewMulti(ledgers...), nil
}

func Module() fx.Option {
	return fx.Module("ledger",
		fx.Provide(
			NewLedger,
		),
	)
}
