package scheduler

import (
	"context"

	"threshold_bot/internal/modules/config"
	engine "threshold_bot/internal/modules/engine/service"
	"threshold_bot/internal/modules/scheduler/service"
	status "threshold_bot/internal/modules/status/service"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

func NewScheduler(cfg *config.Config, e *engine.Engine, health *status.Health) *service.Scheduler {
	return service.New(e, health, cfg.LoopSleep())
}

// RunLoop: стартовая проверка API в OnStart (ошибка валит запуск), затем цикл в горутине.
func RunLoop(lc fx.Lifecycle, s *service.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := s.Probe(startCtx); err != nil {
				cancel()
				close(done)
				return errors.Wrap(err, "exiting due to API connection failure")
			}
			go func() {
				defer close(done)
				s.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func Module() fx.Option {
	return fx.Module("scheduler",
		fx.Provide(
			NewScheduler,
		),
		fx.Invoke(RunLoop),
	)
}
