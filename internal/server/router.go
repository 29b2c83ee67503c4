package server

import (
	"net/http"
	"time"

	"communities/internal/auth"
	"communities/internal/config"
	"communities/internal/metrics"
	"communities/internal/mw"
	"communities/internal/realtime"
	"communities/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *realtime.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.CORS(cfg.Env))
	r.Use(metrics.GinMiddleware())
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", realtime.Serve(hub, db))

	userSvc := service.NewUserService(db, cfg)
	communitySvc := service.NewCommunityService(db, cfg, hub)
	msgSvc := service.NewMessageService(db, cfg, hub)
	h := NewHandler(userSvc, communitySvc, msgSvc, hub)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg, db))

	authed.GET("/me", h.Me)
	authed.POST("/communities", h.CreateCommunity)
	authed.GET("/communities", h.MyCommunities)
	authed.GET("/communities/suggestions", h.Suggestions)
	authed.GET("/communities/:id", h.CommunityProfile)
	authed.PATCH("/communities/:id/settings", h.UpdateSettings)
	authed.POST("/communities/:id/members", h.AddMembers)
	authed.POST("/communities/:id/join", h.JoinCommunity)
	authed.POST("/communities/:id/leave", h.LeaveCommunity)

	authed.POST("/communities/:id/delete-vote", h.StartDeleteVote)
	authed.DELETE("/communities/:id/delete-vote", h.CancelDeleteVote)
	authed.POST("/communities/:id/delete-vote/ballot", h.VoteDelete)

	authed.POST("/communities/:id/messages", h.SendMessage)
	authed.GET("/communities/:id/messages", h.ListMessages)
	authed.POST("/communities/:id/pin", h.PinMessage)
	authed.DELETE("/communities/:id/pin", h.UnpinMessage)
	authed.GET("/communities/:id/unseen", h.UnseenCount)

	authed.DELETE("/messages/:id", h.DeleteMessage)
	authed.POST("/messages/:id/reactions", h.ToggleReaction)
	authed.POST("/messages/:id/report", h.ReportMessage)
	authed.POST("/messages/:id/seen", h.MarkSeen)

	return r
}
