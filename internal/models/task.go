package models

import "time"

// TaskRun records the outcome of a single queue task so the stats endpoint
// can report pending/running/completed/failed counts.
type TaskRun struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskID   string `gorm:"uniqueIndex;not null" json:"task_id"`
	Name     string `gorm:"index;not null" json:"name"`
	Module   string `gorm:"index" json:"module"`
	Priority int    `json:"priority"`
	Status   string `gorm:"index;not null" json:"status"`
	Error    string `gorm:"type:text" json:"error,omitempty"`
}
