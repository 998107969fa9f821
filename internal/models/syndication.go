package models

import (
	"time"
)

// TaskState represents the current state of a syndication task
type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateSyndicated TaskState = "syndicated"
	TaskStateIgnored    TaskState = "ignored"
)

// PlaceholderURL is stored when a service reports success without a
// permalink, so a syndicated task never carries an empty URL.
const PlaceholderURL = "https://example.com/placeholder"

// SyndicationTask represents one unit of work: syndicate a content item
// to a single service. Exactly one row exists per (content_id, service);
// re-enqueuing the same pair updates the row in place.
type SyndicationTask struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ContentID     string     `gorm:"uniqueIndex:idx_unique_content_service;not null" json:"content_id"`
	Service       string     `gorm:"uniqueIndex:idx_unique_content_service;not null" json:"service"`
	Title         string     `gorm:"not null" json:"title"`
	CanonicalURL  string     `gorm:"not null" json:"canonical_url"`
	PublishedAt   time.Time  `gorm:"not null" json:"published_at"`
	ReadyAt       time.Time  `gorm:"index;not null" json:"ready_at"`
	SyndicatedAt  *time.Time `json:"syndicated_at"`
	SyndicatedURL string     `json:"syndicated_url"`
	Ignored       bool       `gorm:"default:false" json:"ignored"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// State derives the task state. Syndicated wins over ignored: once a
// permalink exists the task is terminal regardless of later flag changes.
func (t *SyndicationTask) State() TaskState {
	switch {
	case t.SyndicatedAt != nil:
		return TaskStateSyndicated
	case t.Ignored:
		return TaskStateIgnored
	default:
		return TaskStatePending
	}
}

// Ready reports whether the task is eligible for dispatch at now.
func (t *SyndicationTask) Ready(now time.Time) bool {
	return t.State() == TaskStatePending && !t.ReadyAt.After(now)
}

// Snapshot carries the denormalized content fields captured at enqueue time.
type Snapshot struct {
	Title        string
	CanonicalURL string
	PublishedAt  time.Time
}
