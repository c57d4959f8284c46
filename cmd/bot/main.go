package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"threshold_bot/internal/modules/config"
	"threshold_bot/internal/modules/engine"
	enginesvc "threshold_bot/internal/modules/engine/service"
	"threshold_bot/internal/modules/exchange"
	"threshold_bot/internal/modules/ledger"
	"threshold_bot/internal/modules/postgres"
	"threshold_bot/internal/modules/scheduler"
	"threshold_bot/internal/modules/status"
	"threshold_bot/internal/modules/store"
	"threshold_bot/internal/notify"
	"threshold_bot/pkg/logger"
	"threshold_bot/pkg/tracing"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

const serviceName = "threshold_bot"

var modes = map[string]struct{ dryRun, web bool }{
	"start":       {},
	"dry-run":     {dryRun: true},
	"web":         {web: true},
	"web-dry-run": {dryRun: true, web: true},
}

func main() {
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	configFile := flags.String("config", "", "yaml config file")
	flags.String("pair", "", "trading pair, e.g. XMRUSD")
	flags.String("exchange.driver", "", "kraken | paper")
	flags.String("log.level", "", "debug | info | warn | error")
	flags.Int("service.port", 0, "HTTP port for dashboard, health and metrics")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: bot {start|dry-run|web|web-dry-run} [flags]\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	modeName := "start"
	if flags.NArg() > 0 {
		modeName = flags.Arg(0)
	}
	mode, ok := modes[modeName]
	if !ok {
		flags.Usage()
		os.Exit(1)
	}

	args := config.Args{
		ConfigFile:  *configFile,
		Flags:       flags,
		ForceDryRun: mode.dryRun,
		WebEnabled:  mode.web,
	}

	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)

	app := fx.New(
		fx.Supply(args),
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		fx.WithLogger(func(cfg *config.Config) fxevent.Logger {
			if err := logger.Init(logger.Config{
				Level:    cfg.Log.Level,
				ToFile:   cfg.Log.ToFile,
				FilePath: cfg.Log.File,
			}); err != nil {
				fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
			}
			l := &fxevent.ZapLogger{Logger: logger.L()}
			l.UseLogLevel(zapcore.DebugLevel) // события fx только на debug
			return l
		}),
		config.Module(),
		fx.Invoke(logStartup, startTracing),
		postgres.Module(),
		exchange.Module(),
		store.Module(),
		ledger.Module(),
		notify.Module(),
		engine.Module(),
		status.Module(),
		scheduler.Module(),
		fx.Invoke(bindTelegramStatus),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		logger.Error("Startup failed: %v", err)
		logger.Sync()
		os.Exit(1)
	}

	sig := <-app.Wait()
	logger.Info("Bot stopped by user (%s)", sig.Signal)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("Shutdown: %v", err)
	}
	logger.Sync()
}

func logStartup(cfg *config.Config) {
	logger.Info("Starting threshold bot for %s (%s/%s)", cfg.Pair, cfg.BaseAsset, cfg.QuoteAsset)
	logger.Info("Drop threshold: %.1f%%, rise threshold: %.1f%%", cfg.Strategy.DropPct*100, cfg.Strategy.RisePct*100)
	logger.Info("Min trade: %.2f %s, max position: %.2f %s",
		cfg.Strategy.MinTrade, cfg.QuoteAsset, cfg.Strategy.MaxPosition, cfg.QuoteAsset)
	if cfg.Trading.Enabled {
		logger.Info("Trading enabled: true")
	} else {
		logger.Warn("Trading enabled: false (dry-run, orders are simulated)")
	}
	logger.Debug("Effective config:\n%s", cfg.Dump())
}

func startTracing(lc fx.Lifecycle, cfg *config.Config) error {
	_, closer, err := tracing.InitTracer(tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Host:       cfg.Tracing.Host,
		Port:       cfg.Tracing.Port,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

// bindTelegramStatus: /status в чате читает снапшот движка.
func bindTelegramStatus(tg *notify.Telegram, e *enginesvc.Engine) {
	if tg != nil {
		tg.SetStatusSource(e)
	}
}
