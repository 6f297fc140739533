// Package dedup remembers webhook delivery ids in Redis so a retried
// delivery is stored only once.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour

	keyPrefix = "glassmail:webhook:"
)

type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// IsNew reports whether deliveryID has not been seen before and marks it
// seen in the same step.
func (f *Filter) IsNew(ctx context.Context, deliveryID string) (bool, error) {
	key, err := keyFor(deliveryID)
	if err != nil {
		return false, err
	}
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

func keyFor(deliveryID string) (string, error) {
	trimmed := strings.TrimSpace(deliveryID)
	if trimmed == "" {
		return "", errors.New("delivery id is required")
	}
	return keyPrefix + trimmed, nil
}

// Forget releases a delivery id so the next delivery with it counts as new.
func (f *Filter) Forget(ctx context.Context, deliveryID string) error {
	key, err := keyFor(deliveryID)
	if err != nil {
		return err
	}
	if err := f.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
