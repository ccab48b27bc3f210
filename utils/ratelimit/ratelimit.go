package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/config"
)

// Rule is a budget of Limit requests per Window. A non-positive Limit
// disables the rule.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (r Rule) Disabled() bool {
	return r.Limit <= 0 || r.Window <= 0
}

// Rules holds the budgets enforced by the API.
type Rules struct {
	Register    Rule
	Login       Rule
	JoinRequest Rule
	Message     Rule
}

func RulesFrom(cfg config.RateLimitConfig) Rules {
	return Rules{
		Register:    Rule{Name: "register", Limit: cfg.RegisterPerMinute, Window: time.Minute},
		Login:       Rule{Name: "login", Limit: cfg.LoginPerMinute, Window: time.Minute},
		JoinRequest: Rule{Name: "join", Limit: cfg.JoinRequestPerMinute, Window: time.Minute},
		Message:     Rule{Name: "message", Limit: cfg.MessagePerMinute, Window: time.Minute},
	}
}

// Limiter counts requests per key in fixed windows kept in Redis, so every
// node shares one budget. With a nil client every request is allowed.
type Limiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool // allow requests when Redis is unavailable
	now         func() time.Time
}

func NewLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *Limiter {
	return &Limiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

// Allow consumes one request from key's budget under rule.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	return l.AllowN(ctx, key, 1, rule)
}

// AllowN consumes n requests at once.
func (l *Limiter) AllowN(ctx context.Context, key string, n int, rule Rule) (bool, error) {
	if l == nil || l.redisClient == nil || rule.Disabled() {
		return true, nil
	}
	bucketKey := l.bucketKey(key, rule, l.now())

	pipe := l.redisClient.Pipeline()
	incrCmd := pipe.IncrBy(ctx, bucketKey, int64(n))
	pipe.Expire(ctx, bucketKey, rule.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request (fail-open)",
				zap.String("key", bucketKey),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(rule.Limit)
	if !allowed {
		l.logger.Debug("rate limit exceeded",
			zap.String("rule", rule.Name),
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", rule.Limit),
		)
	}
	return allowed, nil
}

// Remaining reports how many requests are left in the current window.
func (l *Limiter) Remaining(ctx context.Context, key string, rule Rule) (int, error) {
	if l == nil || l.redisClient == nil || rule.Disabled() {
		return rule.Limit, nil
	}
	count, err := l.redisClient.Get(ctx, l.bucketKey(key, rule, l.now())).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rule.Limit, nil
		}
		return 0, fmt.Errorf("failed to get remaining requests: %w", err)
	}
	return max(rule.Limit-int(count), 0), nil
}

// Reset clears the current window for key.
func (l *Limiter) Reset(ctx context.Context, key string, rule Rule) error {
	if l == nil || l.redisClient == nil {
		return nil
	}
	if err := l.redisClient.Del(ctx, l.bucketKey(key, rule, l.now())).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *Limiter) bucketKey(key string, rule Rule, now time.Time) string {
	bucket := now.UnixMilli() / rule.Window.Milliseconds()
	return fmt.Sprintf("ratelimit:%s:%s:%d", rule.Name, key, bucket)
}
