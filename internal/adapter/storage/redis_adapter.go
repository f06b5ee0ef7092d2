package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/port"
)

const (
	replayKeyPrefix  = "replay:"
	DefaultReplayTTL = 24 * time.Hour
)

var _ port.ReplayCache = (*RedisAdapter)(nil)

// RedisAdapter caches idempotent mutation results so retries skip the database.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) Lookup(ctx context.Context, scope string) (*domain.MutationResult, error) {
	raw, err := r.client.Get(ctx, replayKeyPrefix+scope).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res domain.MutationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode replay %s: %w", scope, err)
	}
	return &res, nil
}

// Remember keeps the first result stored for scope; later writes are ignored.
func (r *RedisAdapter) Remember(ctx context.Context, scope string, result domain.MutationResult) error {
	result.Replayed = false
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode replay %s: %w", scope, err)
	}
	return r.client.SetNX(ctx, replayKeyPrefix+scope, raw, r.ttl).Err()
}
