package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threshold_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Redis — снапшот по ключу (SET с TTL) плюс PUBLISH в канал для подписчиков.
type Redis struct {
	rdb     redis.UniversalClient
	key     string
	channel string
	ttl     time.Duration
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedis(rdb redis.UniversalClient, pair string, ttl time.Duration) *Redis {
	p := strings.ToLower(pair)
	return &Redis{
		rdb:     rdb,
		key:     "threshold_bot:status:" + p,
		channel: "threshold_bot:status:" + p + ":updates",
		ttl:     ttl,
	}
}

func (r *Redis) Name() string { return "redis" }
func (r *Redis) Key() string  { return r.key }

func (r *Redis) Publish(ctx context.Context, snap models.Snapshot) error {
	bs, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key, bs, r.ttl)
	pipe.Publish(ctx, r.channel, bs)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", r.key, err)
	}
	return nil
}
