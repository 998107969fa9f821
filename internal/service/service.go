// Package service defines the syndication capability each platform
// adapter implements, and the registry the dispatcher selects them from.
package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/render"
)

// Status discriminates adapter outcomes
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the structured outcome of a syndication attempt. Expected
// failures (missing credentials, platform rejection) are results, not
// errors; the task stays pending either way.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	URL     string `json:"syndicated_url,omitempty"`
}

// Success builds a success result carrying the permalink.
func Success(url, message string) Result {
	return Result{Status: StatusSuccess, Message: message, URL: url}
}

// Errorf builds an error result.
func Errorf(format string, args ...interface{}) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// Service syndicates rendered content to one platform.
type Service interface {
	// Name is the platform tag tasks are enqueued under.
	Name() string
	// TagStyle reports which hashtag grammar the platform accepts.
	TagStyle() render.TagStyle
	// Syndicate posts the rendered text (and the item's images) and, on
	// success, records the outcome through the shared success path.
	Syndicate(ctx context.Context, task *models.SyndicationTask, item content.Item, text string) Result
}

// Registry holds the closed set of configured platform adapters.
type Registry struct {
	services map[string]Service
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds an adapter; a duplicate name is a wiring bug.
func (r *Registry) Register(svc Service) error {
	name := svc.Name()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}
	r.services[name] = svc
	return nil
}

// Get returns the adapter for a platform name.
func (r *Registry) Get(name string) (Service, error) {
	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("unknown service: %s", name)
	}
	return svc, nil
}

// Names returns all registered platform names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
