package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "budget:reports"

// Redis is a ReportCache shared by every server instance.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects using a redis:// URL and pings the server.
func NewRedis(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, defaultPrefix, ttl, logger), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger.With("component", "cache")}
}

func (r *Redis) generationKey() string { return r.prefix + ":generation" }

// generation returns the current generation; a missing counter is 0.
func (r *Redis) generation(ctx context.Context) (Generation, error) {
	gen, err := r.client.Get(ctx, r.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return Generation(gen), err
}

func (r *Redis) key(gen Generation, key string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, gen, key)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, Generation, bool) {
	gen, err := r.generation(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "redis generation lookup failed", "error", err)
		return nil, NoGeneration, false
	}
	value, err := r.client.Get(ctx, r.key(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false
	}
	if err != nil {
		r.logger.WarnContext(ctx, "redis GET failed", "key", key, "error", err)
		return nil, gen, false
	}
	return value, gen, true
}

// Set writes under gen. After an Invalidate that key is never read again
// and expires with the TTL.
func (r *Redis) Set(ctx context.Context, gen Generation, key string, value []byte) {
	if gen == NoGeneration {
		return
	}
	if err := r.client.Set(ctx, r.key(gen, key), value, r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "redis SET failed", "key", key, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context) {
	if err := r.client.Incr(ctx, r.generationKey()).Err(); err != nil {
		r.logger.ErrorContext(ctx, "redis invalidation failed", "error", err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
