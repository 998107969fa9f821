// Package dispatch drives the syndication queue: it decides which task
// runs, enforces the one-post-per-hour policy and hands the task to the
// platform adapter.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/render"
	"github.com/notmyhostname/posse/internal/service"
	"github.com/notmyhostname/posse/internal/storage"
	"github.com/notmyhostname/posse/pkg/logger"
)

// Result reports one dispatch run.
type Result struct {
	Status         service.Status `json:"status"`
	Message        string         `json:"message"`
	ItemsProcessed int            `json:"items_processed"`
	TaskID         uint           `json:"task_id,omitempty"`
	ContentID      string         `json:"content_id,omitempty"`
	Service        string         `json:"service,omitempty"`
	SyndicatedURL  string         `json:"syndicated_url,omitempty"`
}

// Dispatcher executes queue runs against the configured adapters.
type Dispatcher struct {
	repo     storage.Repository
	store    content.Store
	registry *service.Registry
	renderer *render.Renderer
	cfg      *config.Config
	log      *logger.Logger
}

func New(repo storage.Repository, store content.Store, registry *service.Registry, renderer *render.Renderer, cfg *config.Config, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		store:    store,
		registry: registry,
		renderer: renderer,
		cfg:      cfg,
		log:      log.WithComponent("dispatch"),
	}
}

// RunOnce performs one dispatch cycle at the given time: if any task is
// ready and nothing was syndicated in the current UTC hour yet, the
// oldest ready task is attempted. At most one task per run.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	now = now.UTC()

	ready, err := d.repo.ListReady(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list ready tasks: %w", err)
	}
	if len(ready) == 0 {
		return Result{Status: service.StatusSuccess, Message: "no items ready for syndication"}, nil
	}

	hourStart := now.Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour - time.Second)
	posted, err := d.repo.SyndicatedWithin(ctx, hourStart, hourEnd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check current hour: %w", err)
	}
	if posted {
		return Result{Status: service.StatusSuccess, Message: "already syndicated a post this hour"}, nil
	}

	task := ready[0]
	res := d.dispatchTask(ctx, task)
	return Result{
		Status:         res.Status,
		Message:        res.Message,
		ItemsProcessed: 1,
		TaskID:         task.ID,
		ContentID:      task.ContentID,
		Service:        task.Service,
		SyndicatedURL:  res.URL,
	}, nil
}

// SyndicateNow bypasses the delay and hour gate and dispatches one task
// immediately. Already-syndicated tasks are refused.
func (d *Dispatcher) SyndicateNow(ctx context.Context, id uint) (Result, error) {
	task, err := d.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if task.State() == models.TaskStateSyndicated {
		return Result{}, fmt.Errorf("task %d is already syndicated", id)
	}

	res := d.dispatchTask(ctx, task)
	return Result{
		Status:         res.Status,
		Message:        res.Message,
		ItemsProcessed: 1,
		TaskID:         task.ID,
		ContentID:      task.ContentID,
		Service:        task.Service,
		SyndicatedURL:  res.URL,
	}, nil
}

// dispatchTask renders the task's content and hands it to the adapter.
// Any failure leaves the task pending; the next run retries it.
func (d *Dispatcher) dispatchTask(ctx context.Context, task *models.SyndicationTask) service.Result {
	log := d.log.WithTaskID(task.ID).WithService(task.Service)

	svcCfg, ok := d.cfg.Service(task.Service)
	if !ok || !svcCfg.Enabled {
		log.Warn().Msg("Service is not enabled, leaving task pending")
		return service.Errorf("service %q is not enabled", task.Service)
	}

	adapter, err := d.registry.Get(task.Service)
	if err != nil {
		log.Error().Err(err).Msg("No adapter registered")
		return service.Errorf("no adapter for service %q", task.Service)
	}

	item, err := d.store.Get(ctx, task.ContentID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			log.Warn().Str("content_id", task.ContentID).Msg("Content item no longer exists")
			return service.Errorf("content item %q not found", task.ContentID)
		}
		log.Error().Err(err).Msg("Failed to load content item")
		return service.Errorf("failed to load content: %v", err)
	}

	text, err := d.renderer.Render(render.Input{
		Title:       item.Title(),
		URL:         item.URL(),
		PublishedAt: item.PublishedAt(),
		Tags:        item.Tags(),
	}, svcCfg.Template, adapter.TagStyle())
	if err != nil {
		log.Error().Err(err).Msg("Failed to render post text")
		return service.Errorf("failed to render post: %v", err)
	}

	log.Info().Str("content_id", task.ContentID).Msg("Dispatching task")
	res := adapter.Syndicate(ctx, task, item, text)
	if res.Status != service.StatusSuccess {
		log.Warn().Str("reason", res.Message).Msg("Syndication attempt failed, task stays pending")
	}
	return res
}
