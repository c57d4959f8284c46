package service

import (
	"context"
	"reflect"
	"time"

	"threshold_bot/internal/models"
	"threshold_bot/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Sink — внешний получатель снапшотов.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap models.Snapshot) error
}

// Publisher раз в interval раздаёт свежий снапшот всем sinks параллельно.
// Неизменившийся снапшот повторно не отправляется. Сравнивается целиком:
// после ордера движок меняет last_action и позицию под тем же timestamp.
type Publisher struct {
	src      SnapshotSource
	sinks    []Sink
	interval time.Duration

	last *models.Snapshot
}

func NewPublisher(src SnapshotSource, interval time.Duration, sinks ...Sink) *Publisher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Publisher{src: src, sinks: sinks, interval: interval}
}

func (p *Publisher) Len() int { return len(p.sinks) }

func (p *Publisher) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.PublishOnce(ctx); err != nil {
				logger.Warn("Status publish failed: %v", err)
			}
		}
	}
}

// PublishOnce возвращает false, если публиковать нечего.
func (p *Publisher) PublishOnce(ctx context.Context) (bool, error) {
	snap := p.src.Snapshot()
	if snap.Timestamp == "" || (p.last != nil && reflect.DeepEqual(*p.last, snap)) {
		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range p.sinks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()
			if err := s.Publish(cctx, snap); err != nil {
				logger.Warn("Status sink %s: %v", s.Name(), err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	p.last = &snap
	return true, nil
}
