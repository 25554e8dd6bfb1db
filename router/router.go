package router

import (
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/router/middleware"
)

// Configure configures the routing infrastructure for this daemon instance.
func Configure(sup *modules.Supervisor, q *queue.Queue) *gin.Engine {
	gin.SetMode("release")

	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(config.Get().Api.TrustedProxies); err != nil {
		panic(errors.WithStack(err))
	}
	router.Use(middleware.AttachRequestID(), middleware.CaptureErrors(), middleware.SetAccessControlHeaders())
	router.Use(middleware.AttachSupervisor(sup), middleware.AttachQueue(q))
	// @todo log this into a different file so you can setup IP blocking for abusive requests and such.
	// This should still dump requests in debug mode since it does help with understanding the request
	// lifecycle and quickly seeing what was called leading to the logs.
	router.Use(gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		log.WithFields(log.Fields{
			"client_ip":  params.ClientIP,
			"status":     params.StatusCode,
			"latency":    params.Latency,
			"request_id": params.Keys["request_id"],
		}).Debugf("%s %s", params.MethodColor()+params.Method+params.ResetColor(), params.Path)

		return ""
	}))

	// The health endpoint is deliberately public so external monitors can poll
	// the daemon without holding the API token.
	router.GET("/api/health", getHealth)

	// All the routes beyond this mount use an authorization middleware and are
	// not accessible without the correct Authorization header provided.
	protected := router.Group("")
	protected.Use(middleware.RequireAuthorization())
	protected.GET("/api/system", getSystemInformation)
	protected.GET("/api/system/utilization", getSystemUtilization)
	protected.GET("/api/stats", getStats)

	protected.GET("/api/modules", getModules)
	protected.GET("/api/modules/:module", getModule)
	protected.POST("/api/modules/:module/refresh", postModuleRefresh)

	anime := protected.Group("/api/anime")
	{
		anime.GET("", getAnimeList)
		anime.GET("/:anime", getAnime)
		anime.POST("/fetch", postAnimeFetch)
		anime.POST("/search", postAnimeSearch)
		anime.POST("/batch", postAnimeBatch)
		anime.POST("/:anime/picture", postPictureFetch)
	}

	return router
}
