package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orgaccess/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

// NewLocker returns a Redis backed locker when REDIS_ADDR is set and a
// Noop locker otherwise.
func NewLocker(p Params) Locker {
	log := p.Log.Named("lock")
	if p.Cfg.RedisAddr == "" {
		log.Info("redis not configured, membership locking disabled")
		return Noop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: p.Cfg.RedisPassword,
		DB:       p.Cfg.RedisDB,
	})

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Error("redis ping failed", zap.String("addr", p.Cfg.RedisAddr), zap.Error(err))
				return err
			}
			log.Info("membership locking enabled", zap.String("addr", p.Cfg.RedisAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return NewWaitingLocker(NewRedisStore(client), Options{
		Prefix: "orgaccess:",
		TTL:    p.Cfg.Membership.LockTTL,
		Wait:   p.Cfg.Membership.LockWait,
	})
}
