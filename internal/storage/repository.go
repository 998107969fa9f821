package storage

import (
	"context"
	"errors"
	"time"

	"github.com/notmyhostname/posse/internal/models"
)

// ErrNotFound is returned when no task exists with the requested ID.
var ErrNotFound = errors.New("syndication task not found")

// Repository defines the interface for queue persistence
type Repository interface {
	// Enqueue inserts a task for (contentID, service) or, if the pair
	// already exists, refreshes its snapshot and delay and clears the
	// ignored flag. Returns the task ID.
	Enqueue(ctx context.Context, contentID, service string, snap models.Snapshot, delay time.Duration) (uint, error)

	// ListQueue returns pending tasks by default, or syndicated/ignored
	// tasks when the filter requests history.
	ListQueue(ctx context.Context, filter QueueFilter) ([]*models.SyndicationTask, error)

	// ListReady returns pending tasks whose ready_at has passed,
	// oldest-eligible first.
	ListReady(ctx context.Context, now time.Time) ([]*models.SyndicationTask, error)

	// MarkSyndicated records a successful post. An empty url is replaced
	// with a placeholder so the terminal state stays distinguishable.
	MarkSyndicated(ctx context.Context, id uint, url string) error

	// MarkIgnored sets or clears the ignored flag without touching the
	// syndicated timestamp.
	MarkIgnored(ctx context.Context, id uint, ignored bool) error

	// Unignore returns a task to pending with a fresh delay window,
	// clearing any syndication record.
	Unignore(ctx context.Context, id uint, delay time.Duration) error

	// SyndicatedWithin reports whether any task, across all services,
	// was marked syndicated inside [start, end].
	SyndicatedWithin(ctx context.Context, start, end time.Time) (bool, error)

	Get(ctx context.Context, id uint) (*models.SyndicationTask, error)

	// Find returns the task for a (contentID, service) pair, if any.
	Find(ctx context.Context, contentID, service string) (*models.SyndicationTask, error)

	// Maintenance
	Close() error
	Migrate() error
}

// QueueFilter defines filtering options for queue listings
type QueueFilter struct {
	Service   *string
	History   bool // syndicated or ignored tasks instead of pending ones
	OrderBy   string
	OrderDesc bool
	Limit     int
	Offset    int
}

// DefaultQueueFilter returns a filter matching the dispatch order:
// pending tasks, soonest-ready first.
func DefaultQueueFilter() QueueFilter {
	return QueueFilter{
		OrderBy: "ready_at",
	}
}
