package router

import (
	"context"
	"crypto/subtle"

	"talent-match-go/internal/api/handler"
	"talent-match-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册所有API路由。
// 传入的handler为nil时跳过对应路由组，便于按需启动。
func RegisterRoutes(
	h *server.Hertz,
	cfg *config.Config,
	matchHandler *handler.MatchHandler,
	trackingHandler *handler.TrackingHandler,
) {
	// 健康检查不需要认证
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	apiV1 := h.Group("/api/v1")

	// api_key配置为空时关闭认证，方便本地调试
	if cfg.Server.APIKey != "" {
		apiV1.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Server.APIKey)) == 1, nil
			}),
		))
	}

	if matchHandler != nil {
		apiV1.POST("/jobs/:job_id/match", matchHandler.HandleBatchMatch)
		apiV1.POST("/jobs/:job_id/candidates/:file_name/match", matchHandler.HandleScoreCandidate)
		apiV1.GET("/jobs/:job_id/candidates", matchHandler.HandleListCandidates)
	}

	if trackingHandler != nil {
		apiV1.GET("/jobs/:job_id/candidates/:file_name/tracking", trackingHandler.HandleGetTracking)
		apiV1.PUT("/jobs/:job_id/candidates/:file_name/tracking", trackingHandler.HandleUpdateTracking)
	}
}
