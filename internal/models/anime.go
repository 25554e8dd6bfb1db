package models

import (
	"time"

	"gorm.io/gorm"
)

// Anime is a collected metadata record for a single catalog entry. Records
// are keyed by the provider that produced them plus the provider's own ID so
// the same title collected from two providers stays distinct.
type Anime struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Provider   string  `gorm:"uniqueIndex:idx_provider_remote;not null" json:"provider"`
	RemoteID   uint    `gorm:"uniqueIndex:idx_provider_remote;not null" json:"remote_id"`
	Title      string  `gorm:"index;not null" json:"title"`
	Synopsis   string  `gorm:"type:text" json:"synopsis,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Episodes   int     `json:"episodes,omitempty"`
	Status     string  `json:"status,omitempty"`
	PictureURL string  `json:"picture_url,omitempty"`

	// FetchedAt is when the record was last refreshed from the provider, used
	// by the scheduled refresh job to find stale entries.
	FetchedAt time.Time `gorm:"index" json:"fetched_at"`
}

// Picture is a downloaded artwork file tied to a collected record.
type Picture struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AnimeID   uint   `gorm:"index" json:"anime_id"`
	URL       string `gorm:"not null" json:"url"`
	Path      string `gorm:"not null" json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}
