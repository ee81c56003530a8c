package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter, keyed by
// client identity.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(requestsPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func (l *Limiter) Allow(ctx context.Context, clientID string, n int) (bool, error) {
	key := fmt.Sprintf("ratelimit:client:%s", clientID)
	res, err := l.store.AllowN(ctx, key, n)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, clientID string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:client:%s", clientID)
	return l.store.Status(ctx, key)
}
