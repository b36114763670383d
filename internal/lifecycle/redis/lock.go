package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultLockTTL = 10 * time.Second

// Redis provides the per-order transition lock. Holding the lock gives a
// writer single-writer-per-order discipline; the DB-level compare-and-swap
// still backs it up if the lock expires mid-write.
type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Redis{
		Client:  client,
		LockTTL: lockTTL,
	}
}

// LockOrder acquires the transition lock for one order. The token
// identifies the holder so only the owner can release it.
func (r *Redis) LockOrder(ctx context.Context, orderID, token string) (bool, error) {
	key := "order_lock:" + orderID
	return r.Client.SetNX(ctx, key, token, r.LockTTL).Result()
}

// UnlockOrder releases the lock if the token still owns it. A lock that
// expired and was re-acquired by another writer is left alone.
func (r *Redis) UnlockOrder(ctx context.Context, orderID, token string) error {
	key := "order_lock:" + orderID
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err = r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
