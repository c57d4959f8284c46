package notify

import (
	"context"

	"threshold_bot/internal/modules/config"
	"threshold_bot/pkg/logger"

	"go.uber.org/fx"
)

type Result struct {
	fx.Out

	Notifier Notifier
	Telegram *Telegram // nil без токена
}

// New: Telegram при заданных token/chat_id, иначе лог.
// Ошибка авторизации бота не валит запуск, уходим на лог.
func New(lc fx.Lifecycle, cfg *config.Config) Result {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Info("Notifier: log (telegram is not configured)")
		return Result{Notifier: NewLog()}
	}

	tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("Telegram init failed, falling back to log notifier: %v", err)
		return Result{Notifier: NewLog()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			tg.Start(ctx)
			logger.Info("Notifier: telegram chat %d", cfg.Telegram.ChatID)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			tg.Wait()
			return nil
		},
	})
	return Result{Notifier: tg, Telegram: tg}
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			New,
		),
	)
}
