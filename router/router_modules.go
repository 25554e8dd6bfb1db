package router

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/router/middleware"
)

// getModules returns the supervisor outcome for every declared module.
func getModules(c *gin.Context) {
	sup := middleware.ExtractSupervisor(c)

	statuses := sup.Statuses()
	out := make([]ModuleStatusResponse, 0, len(statuses))
	for name, status := range statuses {
		entry := ModuleStatusResponse{
			Name:   name,
			State:  string(status.State),
			Reason: status.Reason,
		}
		if h, exists := sup.Handle(name); exists && h.Module() != nil {
			entry.Description = h.Module().Description()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	c.JSON(http.StatusOK, gin.H{"data": out})
}

// getModule returns the supervisor outcome for a single module.
func getModule(c *gin.Context) {
	sup := middleware.ExtractSupervisor(c)

	name := c.Param("module")
	h, exists := sup.Handle(name)
	if !exists {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "The requested module does not exist on this instance."})
		return
	}

	status := h.Status()
	entry := ModuleStatusResponse{
		Name:   name,
		State:  string(status.State),
		Reason: status.Reason,
	}
	if h.Module() != nil {
		entry.Description = h.Module().Description()
	}
	c.JSON(http.StatusOK, entry)
}

// postModuleRefresh queues an immediate stale-record refresh for one running
// module, outside the regular schedule.
func postModuleRefresh(c *gin.Context) {
	name := c.Param("module")
	mod, ok := runningModule(c, name)
	if !ok {
		return
	}
	refresher, ok := mod.(modules.Refresher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "The requested module cannot refresh its records."})
		return
	}

	task := queue.NewFuncTask("refresh_stale", name, queue.PriorityHigh, func(ctx context.Context) error {
		return refresher.RefreshStale(ctx)
	})
	middleware.ExtractQueue(c).Enqueue(task)

	c.JSON(http.StatusAccepted, TaskAcceptedResponse{TaskID: task.ID()})
}
