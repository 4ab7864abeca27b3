package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping is used at startup; a missing Redis only disables caching.
func Ping(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}

// Cache stores opaque values under the tracking-code key space.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = TTLTracking
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, code string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyTracking, code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Cache) Set(ctx context.Context, code string, value []byte) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyTracking, code), value, c.ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyTracking, code)).Err()
}

// Dedup remembers processed event ids per consumer.
type Dedup struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service, ttl: TTLDedup}
}

// SeenBefore marks id as processed and reports whether it already was.
func (d *Dedup) SeenBefore(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops the mark so a failed message can be processed again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err()
}
