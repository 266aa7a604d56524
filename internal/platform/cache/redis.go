package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/quizforge/billing/pkg/config"
)

// Redis implements Store on a shared go-redis client.
type Redis struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

func NewRedis(lc fx.Lifecycle, cfg *cfgpkg.Config, log *zap.SugaredLogger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// Cache being down is a degradation, not a startup failure.
				log.Warnw("redis ping failed, continuing without warm cache", "addr", cfg.Redis.Addr, "err", err)
			} else {
				log.Infow("connected to redis", "addr", cfg.Redis.Addr)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) DeleteByPredicate(ctx context.Context, prefix string, match func(value []byte) bool) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if !match(b) {
			continue
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
