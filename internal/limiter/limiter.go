package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter keeps per-client QPS windows and per-capability concurrency
// counters in redis so several gateway processes share one budget.
type Limiter struct {
	Redis *redis.Client
	QPS   int
}

func New(client *redis.Client, qps int) *Limiter {
	return &Limiter{Redis: client, QPS: qps}
}

func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	if l.QPS <= 0 {
		return true, nil
	}
	key := "storygate:qps:" + clientID + ":" + time.Now().UTC().Format("20060102150405")
	pipe := l.Redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Second)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}
	if int(incr.Val()) > l.QPS {
		return false, nil
	}
	return true, nil
}

// Acquire takes one of limit slots for key. The counter expires after ten
// minutes so a crashed holder cannot pin a slot forever.
func (l *Limiter) Acquire(ctx context.Context, key string, limit int) (bool, error) {
	k := "storygate:conc:" + key
	val, err := l.Redis.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	l.Redis.Expire(ctx, k, 10*time.Minute)
	if int(val) > limit {
		l.Redis.Decr(ctx, k)
		return false, nil
	}
	return true, nil
}

func (l *Limiter) Release(ctx context.Context, key string) {
	k := "storygate:conc:" + key
	if v, err := l.Redis.Decr(ctx, k).Result(); err == nil && v < 0 {
		l.Redis.Set(ctx, k, 0, 10*time.Minute)
	}
}

// InFlight reports the current holder count for key.
func (l *Limiter) InFlight(ctx context.Context, key string) (int, error) {
	v, err := l.Redis.Get(ctx, "storygate:conc:"+key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}
