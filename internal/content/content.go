// Package content defines the boundary to the system that owns the
// canonical content. The engine reads item metadata and images from it
// and writes exactly one thing back: syndicated permalinks.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no content item exists with the given ID.
var ErrNotFound = errors.New("content item not found")

// Image is a single image attached to a content item.
type Image interface {
	// Path returns the location of the original file on disk.
	Path() string
	// Alt returns the image's alt text, or "" when none is set.
	Alt() string
	// Resize materializes a resized variant for the named preset
	// (e.g. "1800w", "square-600") and returns its path.
	Resize(preset string) (string, error)
}

// Item is a read-only view of one published content item.
type Item interface {
	// ID is stable across edits; never a slug or path.
	ID() string
	Title() string
	URL() string
	PublishedAt() time.Time
	Tags() []string
	// Cover returns the designated cover image, or nil.
	Cover() Image
	// Images returns the item's general image attachments.
	Images() []Image
	// SyndicatedURLs returns the already-recorded permalinks.
	SyndicatedURLs() []string
}

// Store resolves content items and records syndication results on them.
type Store interface {
	Get(ctx context.Context, id string) (Item, error)
	// AppendSyndicatedURL records url on the item unless it is already
	// present.
	AppendSyndicatedURL(ctx context.Context, id, url string) error
}

// SelectImages picks the images a service should upload: the cover image
// when one is set, otherwise up to limit general attachments.
func SelectImages(item Item, limit int) []Image {
	if limit <= 0 {
		limit = 4
	}
	if cover := item.Cover(); cover != nil {
		return []Image{cover}
	}
	images := item.Images()
	if len(images) > limit {
		images = images[:limit]
	}
	return images
}
