package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/store"
)

// Deduper remembers which webhook events were already applied.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID, eventType string) error
}

// NewDeduper creates the deduper selected by cfg.Driver. The returned close
// function releases driver resources and is never nil.
func NewDeduper(ctx context.Context, cfg config.DedupeConfig, s store.Store) (Deduper, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "store", "":
		return &storeDeduper{store: s}, noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedisDeduper(client, cfg.TTL.Duration), client.Close, nil
	case "none":
		return nopDeduper{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported dedupe driver: %q", cfg.Driver)
	}
}

// storeDeduper keeps processed event ids in the webhook_events table.
type storeDeduper struct {
	store store.Store
}

func (d *storeDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return d.store.WebhookEventProcessed(ctx, eventID)
}

func (d *storeDeduper) Mark(ctx context.Context, eventID, eventType string) error {
	return d.store.RecordWebhookEvent(ctx, eventID, eventType)
}

const redisKeyPrefix = "fawizard:webhook:"

// RedisDeduper keeps processed event ids as expiring Redis keys.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper whose records expire after ttl.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := d.client.Get(ctx, redisKeyPrefix+eventID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID, eventType string) error {
	return d.client.Set(ctx, redisKeyPrefix+eventID, eventType, d.ttl).Err()
}

type nopDeduper struct{}

func (nopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (nopDeduper) Mark(context.Context, string, string) error { return nil }
