package service

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/storage"
	"github.com/notmyhostname/posse/pkg/logger"
)

// Upload is an image prepared for transmission to a platform.
type Upload struct {
	Data []byte
	Mime string
	Alt  string
	Path string
}

// Helper bundles the behavior every adapter shares: image preparation
// and the single write-success path. Adapters embed a *Helper rather
// than inheriting from a base type.
type Helper struct {
	repo   storage.Repository
	store  content.Store
	synCfg config.SyndicationConfig
	log    *logger.Logger
}

// NewHelper creates the shared adapter helper.
func NewHelper(repo storage.Repository, store content.Store, synCfg config.SyndicationConfig, log *logger.Logger) *Helper {
	return &Helper{
		repo:   repo,
		store:  store,
		synCfg: synCfg,
		log:    log.WithComponent("service"),
	}
}

// PrepareImages selects the item's images (cover first, else up to
// limit), resizes them to the configured preset unless original size is
// requested, and reads them into memory. A failing image is skipped and
// logged; the post proceeds with whatever survived.
func (h *Helper) PrepareImages(item content.Item, limit int) []Upload {
	var uploads []Upload
	for _, img := range content.SelectImages(item, limit) {
		path := img.Path()
		if !h.synCfg.UseOriginalImageSize {
			resized, err := img.Resize(h.synCfg.ImagePreset)
			if err != nil {
				h.log.Warn().Err(err).Str("image", path).Msg("Failed to resize image, skipping")
				continue
			}
			path = resized
		}

		data, err := os.ReadFile(path)
		if err != nil {
			h.log.Warn().Err(err).Str("image", path).Msg("Failed to read image, skipping")
			continue
		}

		alt := img.Alt()
		if alt == "" {
			alt = item.Title()
		}

		uploads = append(uploads, Upload{
			Data: data,
			Mime: http.DetectContentType(data),
			Alt:  alt,
			Path: path,
		})
	}
	return uploads
}

// RecordSuccess is the one code path that turns an adapter success into
// durable state: the queue row is marked syndicated and the permalink is
// written back onto the content item. A writeback failure is logged but
// does not undo the syndication, which already happened on the platform.
func (h *Helper) RecordSuccess(ctx context.Context, task *models.SyndicationTask, url string) error {
	if err := h.repo.MarkSyndicated(ctx, task.ID, url); err != nil {
		return fmt.Errorf("failed to mark task syndicated: %w", err)
	}
	if err := h.store.AppendSyndicatedURL(ctx, task.ContentID, url); err != nil {
		h.log.Error().Err(err).
			Uint("task_id", task.ID).
			Str("content_id", task.ContentID).
			Msg("Failed to write syndicated URL back to content")
	}
	return nil
}
