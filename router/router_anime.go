package router

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/priyxstudio/curator/internal/database"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/internal/pictures"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/router/middleware"
)

// parsePriority maps the optional request priority string onto a queue
// priority, defaulting to normal.
func parsePriority(s string) queue.Priority {
	switch strings.ToLower(s) {
	case "low":
		return queue.PriorityLow
	case "high":
		return queue.PriorityHigh
	case "critical":
		return queue.PriorityCritical
	default:
		return queue.PriorityNormal
	}
}

// runningModule resolves the named module from the supervisor and ensures it
// is currently running before any work is queued against it.
func runningModule(c *gin.Context, name string) (modules.Module, bool) {
	sup := middleware.ExtractSupervisor(c)
	h, exists := sup.Handle(name)
	if !exists {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "The requested module does not exist on this instance."})
		return nil, false
	}
	if status := h.Status(); status.State != modules.StateRunning {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "The requested module is not running.",
			"state": status.State,
		})
		return nil, false
	}
	return h.Module(), true
}

// getAnimeList returns stored records, optionally filtered by provider and a
// case-insensitive title match.
func getAnimeList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}

	tx := database.Instance().Model(&models.Anime{}).Order("title asc").Limit(limit)
	if provider := c.Query("provider"); provider != "" {
		tx = tx.Where("provider = ?", provider)
	}
	if title := c.Query("title"); title != "" {
		tx = tx.Where("title LIKE ?", "%"+title+"%")
	}

	var records []models.Anime
	if err := tx.Find(&records).Error; err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

// getAnime returns a single stored record by its database identifier.
func getAnime(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("anime"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "The anime identifier must be numeric."})
		return
	}

	var record models.Anime
	if err := database.Instance().First(&record, uint(id)).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "The requested record could not be located."})
		return
	}
	c.JSON(http.StatusOK, record)
}

// postAnimeFetch queues a single-entry collection against a running module.
func postAnimeFetch(c *gin.Context) {
	var data FetchRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	mod, ok := runningModule(c, data.Module)
	if !ok {
		return
	}
	fetcher, ok := mod.(modules.Fetcher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "The requested module cannot fetch entries by identifier."})
		return
	}

	task := queue.NewFuncTask("fetch_by_id", data.Module, parsePriority(data.Priority), func(ctx context.Context) error {
		return fetcher.FetchByID(ctx, data.RemoteID)
	})
	middleware.ExtractQueue(c).Enqueue(task)

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID()})
}

// postAnimeSearch queues a catalog search against a running module.
func postAnimeSearch(c *gin.Context) {
	var data SearchRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	mod, ok := runningModule(c, data.Module)
	if !ok {
		return
	}
	searcher, ok := mod.(modules.Searcher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "The requested module cannot search its catalog."})
		return
	}

	task := queue.NewFuncTask("search", data.Module, queue.PriorityNormal, func(ctx context.Context) error {
		return searcher.Search(ctx, data.Query, data.Limit)
	})
	middleware.ExtractQueue(c).Enqueue(task)

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID()})
}

// postAnimeBatch queues one collection task per requested identifier.
func postAnimeBatch(c *gin.Context) {
	var data BatchFetchRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}
	if len(data.RemoteIDs) == 0 || len(data.RemoteIDs) > 100 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "A batch must contain between 1 and 100 identifiers."})
		return
	}

	mod, ok := runningModule(c, data.Module)
	if !ok {
		return
	}
	fetcher, ok := mod.(modules.Fetcher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "The requested module cannot fetch entries by identifier."})
		return
	}

	q := middleware.ExtractQueue(c)
	ids := make([]string, 0, len(data.RemoteIDs))
	for _, remoteID := range data.RemoteIDs {
		remoteID := remoteID
		task := queue.NewFuncTask("fetch_by_id", data.Module, queue.PriorityLow, func(ctx context.Context) error {
			return fetcher.FetchByID(ctx, remoteID)
		})
		q.Enqueue(task)
		ids = append(ids, task.ID())
	}

	c.JSON(http.StatusAccepted, BatchAcceptedResponse{TaskIDs: ids})
}

// postPictureFetch queues an artwork download for a stored record.
func postPictureFetch(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("anime"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "The anime identifier must be numeric."})
		return
	}

	db := database.Instance()
	var record models.Anime
	if err := db.First(&record, uint(id)).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "The requested record could not be located."})
		return
	}
	if record.PictureURL == "" {
		middleware.CaptureAndAbort(c, errors.New("router: record has no artwork url to download"))
		return
	}

	svc := pictures.NewService(db)
	task := queue.NewFuncTask("fetch_picture", record.Provider, queue.PriorityLow, func(ctx context.Context) error {
		return svc.Fetch(ctx, record.ID)
	})
	middleware.ExtractQueue(c).Enqueue(task)

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID()})
}
