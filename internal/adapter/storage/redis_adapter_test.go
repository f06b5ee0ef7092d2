package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestReplayCache_LookupMiss(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	cache := NewRedisAdapter(client, time.Minute)
	res, err := cache.Lookup(context.Background(), "missing-"+uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Errorf("expected miss, got %+v", res)
	}
}

func TestReplayCache_RememberThenLookup(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	cache := NewRedisAdapter(client, time.Minute)
	scope := "org:batch:b1:" + uuid.NewString()
	defer client.Del(ctx, replayKeyPrefix+scope)

	want := domain.MutationResult{BatchID: "b1", TransactionID: "t1", QuantityAfter: decimal.RequireFromString("7.5"), Replayed: true}
	if err := cache.Remember(ctx, scope, want); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	got, err := cache.Lookup(ctx, scope)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil || got.TransactionID != "t1" || !got.QuantityAfter.Equal(want.QuantityAfter) {
		t.Fatalf("unexpected cached result %+v", got)
	}
	if got.Replayed {
		t.Error("cached result must not carry the replay marker")
	}

	ttl := client.TTL(ctx, replayKeyPrefix+scope).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %v", ttl)
	}
}

func TestReplayCache_FirstWriteWins(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	cache := NewRedisAdapter(client, time.Minute)
	scope := "org:batch:b1:" + uuid.NewString()
	defer client.Del(ctx, replayKeyPrefix+scope)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := domain.MutationResult{BatchID: "b1", TransactionID: uuid.NewString(), QuantityAfter: decimal.NewFromInt(int64(i))}
			if err := cache.Remember(ctx, scope, res); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if failures.Load() != 0 {
		t.Fatalf("%d Remember calls failed", failures.Load())
	}

	first, _ := cache.Lookup(ctx, scope)
	if first == nil {
		t.Fatal("expected a cached result")
	}
	if err := cache.Remember(ctx, scope, domain.MutationResult{BatchID: "b1", TransactionID: "late"}); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	again, _ := cache.Lookup(ctx, scope)
	if again == nil || again.TransactionID != first.TransactionID {
		t.Errorf("expected first result to stay cached, got %+v", again)
	}
}
