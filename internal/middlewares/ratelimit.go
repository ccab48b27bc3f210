package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/utils/ratelimit"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByClientIP is used for unauthenticated routes (register, login).
func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByUser counts per authenticated user and falls back to the client ip.
func ByUser(c *gin.Context) string {
	if uid := UserID(c); uid != 0 {
		return "user:" + strconv.FormatUint(uint64(uid), 10)
	}
	return ByClientIP(c)
}

// RateLimit rejects requests over rule with 429.
func RateLimit(limiter *ratelimit.Limiter, rule ratelimit.Rule, key KeyFunc, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), key(c), rule)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("rule", rule.Name), zap.Error(err))
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, slow down",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// MaxConcurrency 最大并发控制中间件
// 用带缓冲的 channel 作信号量，并发已满时直接拒绝
func MaxConcurrency(maxConcurrent int) gin.HandlerFunc {
	if maxConcurrent <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "server busy, try again later",
				"code":  "unavailable",
			})
		}
	}
}
