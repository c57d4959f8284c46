package service

import (
	"sync/atomic"
	"time"
)

// Health — флаги для /readyz и /healthz. Пишет планировщик, читает HTTP.
type Health struct {
	ready     atomic.Bool
	startedAt time.Time

	lastTickUnix atomic.Int64 // unix seconds
	feed         func() bool  // ws-фид подключён; nil без ws
}

func NewHealth() *Health {
	return &Health{startedAt: time.Now()}
}

func (h *Health) SetReady(v bool) { h.ready.Store(v) }
func (h *Health) Ready() bool     { return h.ready.Load() }

func (h *Health) SetFeedCheck(fn func() bool) { h.feed = fn }

// WSConnected — nil, если ws не используется.
func (h *Health) WSConnected() *bool {
	if h.feed == nil {
		return nil
	}
	v := h.feed()
	return &v
}

func (h *Health) TouchTick(t time.Time) { h.lastTickUnix.Store(t.Unix()) }
func (h *Health) LastTick() time.Time {
	u := h.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (h *Health) Uptime() time.Duration { return time.Since(h.startedAt) }
