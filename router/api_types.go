package router

import (
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/modules"
)

// ErrorResponse represents the common error payload returned by the API.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is returned by the public health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StatsResponse summarizes the daemon's collection activity.
type StatsResponse struct {
	Anime    int64                     `json:"anime"`
	Pictures int64                     `json:"pictures"`
	Queue    queue.Stats               `json:"queue"`
	Modules  map[string]modules.Status `json:"modules"`
}

// FetchRequest asks a provider module to collect a single entry by the
// provider's own identifier.
type FetchRequest struct {
	Module   string `json:"module" binding:"required"`
	RemoteID uint   `json:"remote_id" binding:"required"`
	Priority string `json:"priority"`
}

// SearchRequest asks a provider module to collect everything matching a
// catalog search.
type SearchRequest struct {
	Module string `json:"module" binding:"required"`
	Query  string `json:"query" binding:"required"`
	Limit  int    `json:"limit"`
}

// BatchFetchRequest asks a provider module to collect several entries at once.
type BatchFetchRequest struct {
	Module    string `json:"module" binding:"required"`
	RemoteIDs []uint `json:"remote_ids" binding:"required"`
}

// TaskAcceptedResponse returns the identifier of a queued collection task.
type TaskAcceptedResponse struct {
	TaskID string `json:"task_id"`
}

// BatchAcceptedResponse returns the identifiers of queued collection tasks.
type BatchAcceptedResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// ModuleStatusResponse describes one module's supervisor outcome.
type ModuleStatusResponse struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description,omitempty"`
}
