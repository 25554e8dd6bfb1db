package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/priyxstudio/curator/internal/database"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/router/middleware"
	"github.com/priyxstudio/curator/system"
)

// getHealth returns a minimal liveness payload for external monitoring.
func getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: system.Version,
	})
}

// getSystemInformation returns information about the host the daemon is
// running on.
func getSystemInformation(c *gin.Context) {
	c.JSON(http.StatusOK, system.GetSystemInformation())
}

// getSystemUtilization returns current resource usage for the host.
func getSystemUtilization(c *gin.Context) {
	u, err := system.GetSystemUtilization()
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// getStats summarizes collection activity: stored record counts, queue
// counters and the per-module supervisor outcomes.
func getStats(c *gin.Context) {
	db := database.Instance()

	var animeCount, pictureCount int64
	if err := db.Model(&models.Anime{}).Count(&animeCount).Error; err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	if err := db.Model(&models.Picture{}).Count(&pictureCount).Error; err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		Anime:    animeCount,
		Pictures: pictureCount,
		Queue:    middleware.ExtractQueue(c).Stats(),
		Modules:  middleware.ExtractSupervisor(c).Statuses(),
	})
}
