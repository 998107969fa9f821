package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/storage"
)

// Repository implements storage.Repository using SQLite
type Repository struct {
	db *gorm.DB
}

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&models.SyndicationTask{})
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) Enqueue(ctx context.Context, contentID, service string, snap models.Snapshot, delay time.Duration) (uint, error) {
	now := time.Now().UTC()
	readyAt := now.Add(delay)

	refresh := map[string]interface{}{
		"title":         snap.Title,
		"canonical_url": snap.CanonicalURL,
		"published_at":  snap.PublishedAt.UTC(),
		"ready_at":      readyAt,
		"ignored":       false,
		"updated_at":    now,
	}

	var existing models.SyndicationTask
	err := r.db.WithContext(ctx).
		Where("content_id = ? AND service = ?", contentID, service).
		First(&existing).Error
	if err == nil {
		if err := r.db.WithContext(ctx).Model(&existing).Updates(refresh).Error; err != nil {
			return 0, fmt.Errorf("failed to update queued task: %w", err)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("failed to query queue: %w", err)
	}

	task := models.SyndicationTask{
		ContentID:    contentID,
		Service:      service,
		Title:        snap.Title,
		CanonicalURL: snap.CanonicalURL,
		PublishedAt:  snap.PublishedAt.UTC(),
		ReadyAt:      readyAt,
	}
	if err := r.db.WithContext(ctx).Create(&task).Error; err != nil {
		// A concurrent insert of the same pair can beat us to the unique
		// index; converge on the surviving row instead of surfacing it.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			if err := r.db.WithContext(ctx).
				Where("content_id = ? AND service = ?", contentID, service).
				First(&existing).Error; err != nil {
				return 0, fmt.Errorf("failed to resolve duplicate enqueue: %w", err)
			}
			if err := r.db.WithContext(ctx).Model(&existing).Updates(refresh).Error; err != nil {
				return 0, fmt.Errorf("failed to update queued task: %w", err)
			}
			return existing.ID, nil
		}
		return 0, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task.ID, nil
}

// Columns callers may order queue listings by.
var orderColumns = map[string]bool{
	"ready_at":      true,
	"published_at":  true,
	"syndicated_at": true,
	"title":         true,
	"service":       true,
	"created_at":    true,
	"updated_at":    true,
}

func (r *Repository) ListQueue(ctx context.Context, filter storage.QueueFilter) ([]*models.SyndicationTask, error) {
	var tasks []*models.SyndicationTask
	query := r.db.WithContext(ctx).Model(&models.SyndicationTask{})

	if filter.Service != nil {
		query = query.Where("service = ?", *filter.Service)
	}

	if filter.History {
		query = query.Where("syndicated_at IS NOT NULL OR ignored = ?", true)
	} else {
		query = query.Where("syndicated_at IS NULL AND ignored = ?", false)
	}

	// Ordering
	orderCol := "ready_at"
	if orderColumns[filter.OrderBy] {
		orderCol = filter.OrderBy
	}
	if filter.OrderDesc {
		query = query.Order(orderCol + " DESC")
	} else {
		query = query.Order(orderCol + " ASC")
	}

	// Pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return tasks, nil
}

func (r *Repository) ListReady(ctx context.Context, now time.Time) ([]*models.SyndicationTask, error) {
	var tasks []*models.SyndicationTask
	if err := r.db.WithContext(ctx).
		Where("syndicated_at IS NULL AND ignored = ? AND ready_at <= ?", false, now.UTC()).
		Order("ready_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list ready tasks: %w", err)
	}
	return tasks, nil
}

func (r *Repository) MarkSyndicated(ctx context.Context, id uint, url string) error {
	if url == "" {
		url = models.PlaceholderURL
	}
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]interface{}{
		"syndicated_at":  now,
		"syndicated_url": url,
		"updated_at":     now,
	})
}

func (r *Repository) MarkIgnored(ctx context.Context, id uint, ignored bool) error {
	// syndicated_at is deliberately untouched so ignored items stay
	// distinguishable from syndicated ones.
	return r.update(ctx, id, map[string]interface{}{
		"ignored":    ignored,
		"updated_at": time.Now().UTC(),
	})
}

func (r *Repository) Unignore(ctx context.Context, id uint, delay time.Duration) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]interface{}{
		"ignored":        false,
		"syndicated_at":  nil,
		"syndicated_url": "",
		"ready_at":       now.Add(delay),
		"updated_at":     now,
	})
}

func (r *Repository) update(ctx context.Context, id uint, values map[string]interface{}) error {
	var task models.SyndicationTask
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to load task %d: %w", id, err)
	}
	if err := r.db.WithContext(ctx).Model(&task).Updates(values).Error; err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	return nil
}

func (r *Repository) SyndicatedWithin(ctx context.Context, start, end time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SyndicationTask{}).
		Where("syndicated_at >= ? AND syndicated_at <= ?", start.UTC(), end.UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query syndication window: %w", err)
	}
	return count > 0, nil
}

func (r *Repository) Find(ctx context.Context, contentID, service string) (*models.SyndicationTask, error) {
	var task models.SyndicationTask
	err := r.db.WithContext(ctx).
		Where("content_id = ? AND service = ?", contentID, service).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task %s/%s: %w", contentID, service, err)
	}
	return &task, nil
}

func (r *Repository) Get(ctx context.Context, id uint) (*models.SyndicationTask, error) {
	var task models.SyndicationTask
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return &task, nil
}
