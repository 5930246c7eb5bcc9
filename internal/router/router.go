package router

import (
	"strconv"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/newsrelay/internal/config"
	"github.com/newsrelay/internal/handler"
	"github.com/newsrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionName = "newsrelay_session"

// Options 为路由需要的配置。
type Options struct {
	SessionSecret string
	UploadDir     string
	UploadURLPath string
	Secure        bool
}

// OptionsFromConfig 从应用配置构造路由选项。
func OptionsFromConfig(cfg config.AppConfig) Options {
	return Options{
		SessionSecret: cfg.Server.SessionSecret,
		UploadDir:     cfg.Upload.Dir,
		UploadURLPath: cfg.Upload.URLPath,
		Secure:        cfg.IsProduction(),
	}
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics())

	// 配置会话中间件
	store := cookie.NewStore([]byte(opts.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		Secure:   opts.Secure,
	})
	r.Use(sessions.Sessions(sessionName, store))

	if opts.UploadDir != "" && opts.UploadURLPath != "" {
		r.Static(strings.TrimRight(opts.UploadURLPath, "/"), opts.UploadDir)
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	r.GET("/healthz", api.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	apiGroup.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		apiGroup.POST("/auth/login", api.Login)
		apiGroup.POST("/auth/logout", api.Logout)

		// 需要认证的接口
		auth := apiGroup.Group("")
		auth.Use(handler.AuthRequired())
		{
			auth.POST("/news", api.CreateNews)
			auth.GET("/news/:id", api.GetNews)
			auth.POST("/news/:id/publish", api.PublishNews)
			auth.POST("/news/:id/publish/async", api.PublishNewsAsync)
			auth.GET("/news/:id/publish-tasks", api.ListPublishTasks)
			auth.GET("/news/:id/distributions", api.ListDistributions)
			auth.POST("/news/:id/portal-images", api.UploadPortalImages)

			auth.GET("/publish/status", api.PublishStatus)

			auth.PUT("/distributions/:id", api.EditDistribution)
			auth.DELETE("/distributions/:id", api.DeleteDistribution)
			auth.GET("/distributions/:id/fetch", api.FetchDistribution)

			auth.POST("/portal-credentials/sync", api.SyncPortalCredentials)

			auth.GET("/settings/ai", api.GetAISettings)
			auth.PUT("/settings/ai", api.UpdateAISettings)
		}
	}

	return r
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
