package mastodon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/service"
	"github.com/notmyhostname/posse/internal/storage"
	"github.com/notmyhostname/posse/internal/storage/sqlite"
	"github.com/notmyhostname/posse/pkg/logger"
	"github.com/notmyhostname/posse/pkg/ratelimit"
)

type stubStore struct {
	appended []string
}

func (s *stubStore) Get(ctx context.Context, id string) (content.Item, error) {
	return nil, content.ErrNotFound
}

func (s *stubStore) AppendSyndicatedURL(ctx context.Context, id, url string) error {
	s.appended = append(s.appended, url)
	return nil
}

type stubItem struct {
	id    string
	title string
}

func (i stubItem) ID() string { return i.id }

func (i stubItem) Title() string { return i.title }

func (i stubItem) URL() string { return "https://example.com/" + i.id }

func (i stubItem) PublishedAt() time.Time { return time.Now().UTC() }

func (i stubItem) Tags() []string { return nil }

func (i stubItem) Cover() content.Image { return nil }

func (i stubItem) Images() []content.Image { return nil }

func (i stubItem) SyndicatedURLs() []string { return nil }

func setup(t *testing.T) (storage.Repository, *models.SyndicationTask, *stubStore, *service.Helper) {
	t.Helper()

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	id, err := repo.Enqueue(context.Background(), "post-1", Name, models.Snapshot{
		Title:        "Hello",
		CanonicalURL: "https://example.com/post-1",
		PublishedAt:  time.Now().UTC(),
	}, 0)
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	task, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}

	store := &stubStore{}
	helper := service.NewHelper(repo, store, config.SyndicationConfig{}, logger.Default())
	return repo, task, store, helper
}

func TestSyndicatePostsStatus(t *testing.T) {
	var gotStatus map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/statuses" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type without media, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotStatus); err != nil {
			t.Errorf("failed to decode status body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "114",
			"account": map[string]string{
				"username": "alice",
			},
		})
	}))
	defer srv.Close()

	repo, task, store, helper := setup(t)

	adapter := New(config.ServiceConfig{
		InstanceURL: srv.URL,
		APIToken:    "token",
	}, helper, ratelimit.NewDefaultLimiter(), logger.Default())

	result := adapter.Syndicate(context.Background(), task, stubItem{id: "post-1", title: "Hello"}, "Hello world #fun")
	if result.Status != service.StatusSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}

	wantURL := srv.URL + "/@alice/114"
	if result.URL != wantURL {
		t.Errorf("expected permalink %s, got %s", wantURL, result.URL)
	}
	if gotStatus["status"] != "Hello world #fun" {
		t.Errorf("expected status text to be sent, got %q", gotStatus["status"])
	}
	if gotStatus["visibility"] != "public" {
		t.Errorf("expected public visibility, got %q", gotStatus["visibility"])
	}

	got, err := repo.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if got.State() != models.TaskStateSyndicated {
		t.Errorf("expected task to be syndicated, got %s", got.State())
	}
	if got.SyndicatedURL != wantURL {
		t.Errorf("expected syndicated URL %s, got %s", wantURL, got.SyndicatedURL)
	}
	if len(store.appended) != 1 || store.appended[0] != wantURL {
		t.Errorf("expected permalink written back to content store, got %v", store.appended)
	}
}

func TestSyndicateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	repo, task, _, helper := setup(t)

	adapter := New(config.ServiceConfig{
		InstanceURL: srv.URL,
		APIToken:    "token",
	}, helper, ratelimit.NewDefaultLimiter(), logger.Default())

	result := adapter.Syndicate(context.Background(), task, stubItem{id: "post-1"}, "Hello")
	if result.Status != service.StatusError {
		t.Fatalf("expected error result, got %s", result.Status)
	}

	// The task must survive the failure untouched.
	got, err := repo.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if got.State() != models.TaskStatePending {
		t.Errorf("expected task to stay pending, got %s", got.State())
	}
}

func TestSyndicateMissingConfig(t *testing.T) {
	_, task, _, helper := setup(t)

	tests := []struct {
		name string
		cfg  config.ServiceConfig
	}{
		{"no instance", config.ServiceConfig{APIToken: "token"}},
		{"no token", config.ServiceConfig{InstanceURL: "https://mastodon.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := New(tt.cfg, helper, ratelimit.NewDefaultLimiter(), logger.Default())
			result := adapter.Syndicate(context.Background(), task, stubItem{id: "post-1"}, "Hello")
			if result.Status != service.StatusError {
				t.Errorf("expected error result, got %s", result.Status)
			}
		})
	}
}
