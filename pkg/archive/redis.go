package archive

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// Redis archives snapshots as JSON strings under prefix:runID
	Redis struct {
		client redis.UniversalClient
		prefix string
		ttl    time.Duration
	}

	// RedisConfig describes the Redis server holding archived snapshots.
	// A zero TTL keeps snapshots until they are deleted
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
		TTL      time.Duration
	}
)

var _ Archiver = (*Redis)(nil)

// NewRedis connects to the server described by cfg
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.Prefix, cfg.TTL)
}

// NewRedisWithClient archives through an existing client, which the
// Redis archiver takes ownership of
func NewRedisWithClient(
	client redis.UniversalClient, prefix string, ttl time.Duration,
) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Redis) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyFor(snap.RunID), data, r.ttl).Err()
}

func (r *Redis) Load(ctx context.Context, runID string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.keyFor(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (r *Redis) Delete(ctx context.Context, runID string) error {
	return r.client.Del(ctx, r.keyFor(runID)).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) keyFor(runID string) string {
	if r.prefix == "" {
		return runID
	}
	return r.prefix + ":" + runID
}
