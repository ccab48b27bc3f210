package routers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/TeamLoom/config"
	"github.com/Gopher0727/TeamLoom/internal/handlers"
	"github.com/Gopher0727/TeamLoom/internal/middlewares"
	"github.com/Gopher0727/TeamLoom/internal/ws"
	"github.com/Gopher0727/TeamLoom/middleware/jwt"
	logger "github.com/Gopher0727/TeamLoom/middleware/log"
	"github.com/Gopher0727/TeamLoom/utils/ratelimit"
)

// Deps 路由依赖
type Deps struct {
	Config   *config.Config
	Log      *logger.Logger
	Tokens   *jwt.TokenManager
	Limiter  *ratelimit.Limiter
	Rules    ratelimit.Rules
	Auth     *handlers.AuthHandler
	Groups   *handlers.GroupHandler
	Messages *handlers.MessageHandler
	Notices  *handlers.NotificationHandler
	Health   *handlers.HealthHandler
	Chat     *ws.ChatHandler
	Notify   *ws.NotificationHandler
}

// SetupRoutes 设置所有路由
func SetupRoutes(r *gin.Engine, d Deps) {
	corsConfig := cors.DefaultConfig()
	if origins := d.Config.Server.AllowedOrigins; len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", middlewares.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{middlewares.HeaderRequestID}

	r.Use(
		middlewares.TraceID(),
		middlewares.RequestLogger(d.Log),
		middlewares.Recovery(d.Log),
		cors.New(corsConfig),
	)

	r.GET("/health", d.Health.Health)

	// WebSocket 路由不受并发上限约束，连接会长期占用
	auth := middlewares.Auth(d.Tokens)
	r.GET("/ws/chat/:group_id", auth, d.Chat.ServeChat)
	r.GET("/ws/notifications", auth, d.Notify.ServeNotifications)

	api := r.Group("/api/v1")
	api.Use(middlewares.MaxConcurrency(d.Config.Server.MaxConcurrent))

	registerUserRoutes(api, d, auth)
	registerGroupRoutes(api, d, auth)
	registerNotificationRoutes(api, d, auth)
}

func registerUserRoutes(api *gin.RouterGroup, d Deps, auth gin.HandlerFunc) {
	limitLog := d.Log.Component("ratelimit")
	users := api.Group("/users")
	{
		users.POST("/register", middlewares.RateLimit(d.Limiter, d.Rules.Register, middlewares.ByClientIP, limitLog), d.Auth.Register)
		users.POST("/login", middlewares.RateLimit(d.Limiter, d.Rules.Login, middlewares.ByClientIP, limitLog), d.Auth.Login)
		users.GET("/me", auth, d.Auth.Me)
	}
	api.GET("/join-requests/mine", auth, d.Groups.MyJoinRequests)
}

func registerGroupRoutes(api *gin.RouterGroup, d Deps, auth gin.HandlerFunc) {
	joinLimit := middlewares.RateLimit(d.Limiter, d.Rules.JoinRequest, middlewares.ByUser, d.Log.Component("ratelimit"))

	groups := api.Group("/groups", auth)
	{
		groups.POST("", d.Groups.CreateGroup)
		groups.GET("/mine", d.Groups.MyGroups)
		groups.GET("/:group_id", d.Groups.GetGroup)
		groups.POST("/:group_id/complete", d.Groups.ToggleComplete)
		groups.GET("/:group_id/activity", d.Groups.Activity)
		groups.GET("/:group_id/online", d.Groups.Online)

		// 加入 / 退出 / 移除
		groups.POST("/:group_id/join-requests", joinLimit, d.Groups.RequestJoin)
		groups.GET("/:group_id/join-requests", d.Groups.ListJoinRequests)
		groups.POST("/:group_id/join-requests/:request_id/review", d.Groups.ReviewJoin)
		groups.POST("/:group_id/leave-requests", d.Groups.RequestLeave)
		groups.GET("/:group_id/leave-requests", d.Groups.ListLeaveRequests)
		groups.POST("/:group_id/leave-requests/:request_id/review", d.Groups.ReviewLeave)
		groups.DELETE("/:group_id/members/:user_id", d.Groups.RemoveMember)

		// 消息
		groups.GET("/:group_id/messages", d.Messages.History)
		groups.POST("/:group_id/messages", d.Messages.SendMessage)
		groups.PATCH("/:group_id/messages/:message_id", d.Messages.EditMessage)
		groups.DELETE("/:group_id/messages/:message_id", d.Messages.DeleteMessage)
		groups.POST("/:group_id/messages/:message_id/read", d.Messages.MarkRead)
		groups.GET("/:group_id/unread", d.Messages.UnreadCount)
	}
}

func registerNotificationRoutes(api *gin.RouterGroup, d Deps, auth gin.HandlerFunc) {
	notices := api.Group("/notifications", auth)
	{
		notices.GET("", d.Notices.List)
		notices.GET("/unread-count", d.Notices.UnreadCount)
		notices.POST("/read-all", d.Notices.MarkAllRead)
		notices.POST("/:notification_id/read", d.Notices.MarkRead)
	}
}
