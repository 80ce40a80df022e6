package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultFailureWindowKey = "executor:circuit_breaker:failures"

// FailureWindow keeps circuit breaker failure timestamps in a sorted set and
// the trip time in a companion key, so every executor instance trips on the
// same failures and a reset on any instance closes the breaker for all.
type FailureWindow struct {
	rdb     *redis.Client
	key     string
	openKey string
	ttl     time.Duration
}

// NewFailureWindow stores failures under key. The key expires ttl after the
// last recorded failure; ttl should exceed the breaker window.
func (c *Client) NewFailureWindow(key string, ttl time.Duration) *FailureWindow {
	if key == "" {
		key = DefaultFailureWindowKey
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &FailureWindow{rdb: c.rdb, key: key, openKey: key + ":opened_at", ttl: ttl}
}

func (w *FailureWindow) Record(ctx context.Context, at time.Time) error {
	member := fmt.Sprintf("%d:%s", at.UnixNano(), uuid.NewString())

	pipe := w.rdb.TxPipeline()
	pipe.ZAdd(ctx, w.key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.Expire(ctx, w.key, w.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

func (w *FailureWindow) Prune(ctx context.Context, before time.Time) error {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	if err := w.rdb.ZRemRangeByScore(ctx, w.key, "-inf", max).Err(); err != nil {
		return fmt.Errorf("failed to prune failures: %w", err)
	}
	return nil
}

func (w *FailureWindow) Count(ctx context.Context) (int, error) {
	n, err := w.rdb.ZCard(ctx, w.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return int(n), nil
}

// Trip sets the opened-at marker with SETNX; it carries no expiry because the
// breaker only closes on Reset.
func (w *FailureWindow) Trip(ctx context.Context, at time.Time) (bool, error) {
	set, err := w.rdb.SetNX(ctx, w.openKey, at.UnixMilli(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to open breaker: %w", err)
	}
	return set, nil
}

func (w *FailureWindow) OpenedAt(ctx context.Context) (*time.Time, error) {
	ms, err := w.rdb.Get(ctx, w.openKey).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read breaker state: %w", err)
	}
	at := time.UnixMilli(ms)
	return &at, nil
}

func (w *FailureWindow) Reset(ctx context.Context) error {
	if err := w.rdb.Del(ctx, w.key, w.openKey).Err(); err != nil {
		return fmt.Errorf("failed to reset failures: %w", err)
	}
	return nil
}
