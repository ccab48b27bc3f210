package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/middlewares"
	"github.com/Gopher0727/TeamLoom/internal/services"
	logger "github.com/Gopher0727/TeamLoom/middleware/log"
)

func success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"message": "success",
		"data":    data,
	})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes {"error", "code"}. Internal details never reach the client.
func fail(c *gin.Context, log *zap.Logger, err error) {
	status := statusOf(err)
	code := services.CodeOf(err)
	message := err.Error()

	var coded *services.Error
	switch {
	case errors.As(err, &coded):
		message = coded.Message
	case status == http.StatusServiceUnavailable:
		message = "service temporarily unavailable, please retry"
	case status == http.StatusInternalServerError:
		code = "internal"
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), log).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation"})
}

// pathID parses a positive numeric path parameter.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "invalid " + name, "code": "not_found"})
		return 0, false
	}
	return uint(id), true
}

func currentUser(c *gin.Context) (uint, bool) {
	uid := middlewares.UserID(c)
	if uid == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthenticated"})
		return 0, false
	}
	return uid, true
}
