package service

import (
	"context"
	"runtime/debug"
	"time"

	"threshold_bot/internal/metrics"
	"threshold_bot/pkg/logger"
)

// Ticker — то, что гоняет планировщик (движок стратегии).
type Ticker interface {
	Probe(ctx context.Context) error
	Tick(ctx context.Context) error
}

// Heartbeat — отметки для /readyz и /healthz.
type Heartbeat interface {
	SetReady(v bool)
	TouchTick(t time.Time)
}

type nopHeartbeat struct{}

func (nopHeartbeat) SetReady(bool)       {}
func (nopHeartbeat) TouchTick(time.Time) {}

// Scheduler — один поток тиков с фиксированной паузой после каждого, удачного или нет.
type Scheduler struct {
	t     Ticker
	hb    Heartbeat
	sleep time.Duration
	now   func() time.Time
}

func New(t Ticker, hb Heartbeat, sleep time.Duration) *Scheduler {
	if hb == nil {
		hb = nopHeartbeat{}
	}
	if sleep <= 0 {
		sleep = 30 * time.Second
	}
	return &Scheduler{t: t, hb: hb, sleep: sleep, now: time.Now}
}

// Probe — стартовая проверка; ошибка = бот не запускается.
func (s *Scheduler) Probe(ctx context.Context) error {
	return s.t.Probe(ctx)
}

// Run крутит тики до отмены ctx. Отмена проверяется только между тиками.
func (s *Scheduler) Run(ctx context.Context) {
	s.hb.SetReady(true)
	defer s.hb.SetReady(false)

	logger.Info("Starting trading loop, interval %s", s.sleep)
	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Trading loop stopped")
			return
		case <-time.After(s.sleep):
		}
	}
}

// RunOnce — один тик с перехватом паники.
func (s *Scheduler) RunOnce(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			metrics.IncTick("panic")
			logger.Error("Unhandled exception in tick: %v\n%s", p, debug.Stack())
		}
	}()

	// тик не прерываем на середине: отмена ждёт его окончания
	err := s.t.Tick(context.WithoutCancel(ctx))
	s.hb.TouchTick(s.now())
	if err != nil {
		logger.Warn("Tick skipped: %v", err)
	}
}
