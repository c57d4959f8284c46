package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"threshold_bot/internal/modules/config"
	engine "threshold_bot/internal/modules/engine/service"
	exchange "threshold_bot/internal/modules/exchange/service"
	"threshold_bot/internal/modules/status/service"
	"threshold_bot/pkg/logger"

	"go.uber.org/fx"
)

type Config struct {
	Addr      string
	Dashboard bool
}

func NewConfig(cfg *config.Config) Config {
	return Config{
		Addr:      fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port),
		Dashboard: cfg.Service.Web,
	}
}

// NewHealth: если цена идёт из ws, /healthz показывает состояние фида.
func NewHealth(feed *exchange.TickerFeed) *service.Health {
	h := service.NewHealth()
	if feed != nil {
		h.SetFeedCheck(feed.Connected)
	}
	return h
}

func NewMux(cfg Config, e *engine.Engine, health *service.Health) *http.ServeMux {
	return service.NewMux(e, health, cfg.Dashboard)
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			if cfg.Dashboard {
				logger.Info("Web dashboard on http://%s", cfg.Addr)
			} else {
				logger.Info("Health and metrics on http://%s", cfg.Addr)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// RunPublisher: раздача снапшотов во внешние sinks (сейчас redis), если они заданы.
func RunPublisher(lc fx.Lifecycle, cfg *config.Config, e *engine.Engine) {
	var sinks []service.Sink
	if cfg.Redis.Addr != "" {
		rdb := service.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		// TTL с запасом на несколько пропущенных тиков
		sinks = append(sinks, service.NewRedis(rdb, cfg.Pair, 4*cfg.LoopSleep()+cfg.Status.PublishInterval))
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return rdb.Close() },
		})
	}
	if len(sinks) == 0 {
		return
	}

	p := service.NewPublisher(e, cfg.Status.PublishInterval, sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("Status publisher: %d sink(s) every %s", p.Len(), cfg.Status.PublishInterval)
			go func() {
				defer close(done)
				p.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("status",
		fx.Provide(
			NewConfig,
			NewHealth,
			NewMux,
		),
		fx.Invoke(RunHTTP, RunPublisher),
	)
}
