package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/config"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:     mr.Addr(),
		Protocol: 2,
	})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

var perMinute = Rule{Name: "test", Limit: 5, Window: time.Minute}

func TestLimiter_Allow(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)
	ctx := context.Background()

	for i := range perMinute.Limit {
		allowed, err := limiter.Allow(ctx, "user:1", perMinute)
		assert.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "user:1", perMinute)
	assert.NoError(t, err)
	assert.False(t, allowed, "request should be denied after limit exceeded")

	allowed, err = limiter.Allow(ctx, "user:2", perMinute)
	assert.NoError(t, err)
	assert.True(t, allowed, "other keys keep their own budget")
}

func TestLimiter_AllowN(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)
	ctx := context.Background()
	rule := Rule{Name: "n", Limit: 10, Window: time.Minute}

	for _, n := range []int{3, 5, 2} {
		allowed, err := limiter.AllowN(ctx, "k", n, rule)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.AllowN(ctx, "k", 1, rule)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLimiter_WindowRollover(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for range perMinute.Limit {
		_, err := limiter.Allow(ctx, "k", perMinute)
		require.NoError(t, err)
	}
	allowed, _ := limiter.Allow(ctx, "k", perMinute)
	assert.False(t, allowed)

	now = now.Add(time.Minute)
	allowed, err := limiter.Allow(ctx, "k", perMinute)
	require.NoError(t, err)
	assert.True(t, allowed, "a new window starts with a fresh budget")
}

func TestLimiter_RemainingAndReset(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "k", perMinute)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for range 7 {
		_, _ = limiter.Allow(ctx, "k", perMinute)
	}
	remaining, err = limiter.Remaining(ctx, "k", perMinute)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.NoError(t, limiter.Reset(ctx, "k", perMinute))
	allowed, err := limiter.Allow(ctx, "k", perMinute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_KeyExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)

	_, err := limiter.Allow(context.Background(), "k", perMinute)
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, perMinute.Window+time.Second, mr.TTL(keys[0]))
}

func TestLimiter_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()
	ctx := context.Background()

	allowed, err := NewLimiter(client, zap.NewNop(), true).Allow(ctx, "k", perMinute)
	assert.NoError(t, err)
	assert.True(t, allowed, "fail-open allows the request")

	allowed, err = NewLimiter(client, zap.NewNop(), false).Allow(ctx, "k", perMinute)
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	ctx := context.Background()

	allowed, err := NewLimiter(nil, zap.NewNop(), false).Allow(ctx, "k", perMinute)
	assert.NoError(t, err)
	assert.True(t, allowed)

	var nilLimiter *Limiter
	allowed, err = nilLimiter.Allow(ctx, "k", perMinute)
	assert.NoError(t, err)
	assert.True(t, allowed)

	client, _ := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)
	off := Rule{Name: "off", Limit: 0, Window: time.Minute}
	for range 100 {
		allowed, err := limiter.Allow(ctx, "k", off)
		require.NoError(t, err)
		require.True(t, allowed)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewLimiter(client, zap.NewNop(), false)
	rule := Rule{Name: "c", Limit: 50, Window: time.Minute}

	var (
		mu      sync.Mutex
		allowed int
		wg      sync.WaitGroup
	)
	for g := range 10 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for range 10 {
				ok, err := limiter.Allow(context.Background(), "shared", rule)
				if !assert.NoError(t, err, fmt.Sprintf("goroutine %d", g)) {
					return
				}
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, rule.Limit, allowed)
}

func TestRulesFrom(t *testing.T) {
	rules := RulesFrom(config.RateLimitConfig{
		RegisterPerMinute:    5,
		LoginPerMinute:       10,
		JoinRequestPerMinute: 3,
		MessagePerMinute:     120,
	})
	assert.Equal(t, Rule{Name: "register", Limit: 5, Window: time.Minute}, rules.Register)
	assert.Equal(t, 10, rules.Login.Limit)
	assert.Equal(t, "join", rules.JoinRequest.Name)
	assert.Equal(t, 120, rules.Message.Limit)
	assert.False(t, rules.Message.Disabled())
}
