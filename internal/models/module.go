package models

import (
	"time"

	"gorm.io/gorm"
)

// Module represents a module's last observed supervisor outcome. The record
// is written whenever a module reaches Running or a terminal state so that
// operators can inspect outcomes across restarts.
type Module struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string `gorm:"uniqueIndex;not null" json:"name"`
	Enabled bool   `gorm:"default:false" json:"enabled"`
	Status  string `gorm:"not null" json:"status"`
	Reason  string `gorm:"type:text" json:"reason,omitempty"`
}
