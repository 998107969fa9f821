package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/storage"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repo
}

func snapshot(title string) models.Snapshot {
	return models.Snapshot{
		Title:        title,
		CanonicalURL: "https://example.com/" + title,
		PublishedAt:  time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func TestEnqueueCreatesTask(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), time.Hour)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.ContentID != "post-1" || task.Service != "mastodon" {
		t.Errorf("unexpected task identity: %s/%s", task.ContentID, task.Service)
	}
	if task.Title != "hello" {
		t.Errorf("unexpected title %q", task.Title)
	}
	if task.State() != models.TaskStatePending {
		t.Errorf("new task must be pending, got %s", task.State())
	}
	if remaining := time.Until(task.ReadyAt); remaining < 55*time.Minute || remaining > time.Hour {
		t.Errorf("ready_at not about an hour out: %v", remaining)
	}
}

func TestEnqueueSamePairUpdates(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	second, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello again"), time.Hour)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same task row, got %d and %d", first, second)
	}

	tasks, err := repo.ListQueue(ctx, storage.DefaultQueueFilter())
	if err != nil {
		t.Fatalf("ListQueue failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected a single row for the pair, got %d", len(tasks))
	}
	if tasks[0].Title != "hello again" {
		t.Errorf("expected snapshot refreshed, got title %q", tasks[0].Title)
	}
	if time.Until(tasks[0].ReadyAt) < 55*time.Minute {
		t.Errorf("expected delay refreshed, ready_at %v", tasks[0].ReadyAt)
	}
}

func TestEnqueueDistinctServices(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	a, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue mastodon failed: %v", err)
	}
	b, err := repo.Enqueue(ctx, "post-1", "bluesky", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue bluesky failed: %v", err)
	}
	if a == b {
		t.Errorf("different services must get different rows")
	}
}

func TestEnqueueClearsIgnored(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkIgnored(ctx, id, true); err != nil {
		t.Fatalf("MarkIgnored failed: %v", err)
	}

	if _, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0); err != nil {
		t.Fatalf("re-Enqueue failed: %v", err)
	}

	task, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Ignored {
		t.Error("re-enqueue must clear the ignored flag")
	}
	if task.State() != models.TaskStatePending {
		t.Errorf("expected pending after re-enqueue, got %s", task.State())
	}
}

func TestListReady(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	past, err := repo.Enqueue(ctx, "past", "mastodon", snapshot("past"), -time.Hour)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	older, err := repo.Enqueue(ctx, "older", "mastodon", snapshot("older"), -2*time.Hour)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := repo.Enqueue(ctx, "future", "mastodon", snapshot("future"), time.Hour); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ignored, err := repo.Enqueue(ctx, "ignored", "mastodon", snapshot("ignored"), -time.Hour)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkIgnored(ctx, ignored, true); err != nil {
		t.Fatalf("MarkIgnored failed: %v", err)
	}
	done, err := repo.Enqueue(ctx, "done", "mastodon", snapshot("done"), -time.Hour)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkSyndicated(ctx, done, "https://platform.example/1"); err != nil {
		t.Fatalf("MarkSyndicated failed: %v", err)
	}

	ready, err := repo.ListReady(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tasks, got %d", len(ready))
	}
	if ready[0].ID != older || ready[1].ID != past {
		t.Errorf("expected oldest-ready first, got %d then %d", ready[0].ID, ready[1].ID)
	}
}

func TestListQueueHistory(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	pending, err := repo.Enqueue(ctx, "pending", "mastodon", snapshot("pending"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	done, err := repo.Enqueue(ctx, "done", "mastodon", snapshot("done"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkSyndicated(ctx, done, "https://platform.example/1"); err != nil {
		t.Fatalf("MarkSyndicated failed: %v", err)
	}
	ignored, err := repo.Enqueue(ctx, "ignored", "bluesky", snapshot("ignored"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkIgnored(ctx, ignored, true); err != nil {
		t.Fatalf("MarkIgnored failed: %v", err)
	}

	queue, err := repo.ListQueue(ctx, storage.DefaultQueueFilter())
	if err != nil {
		t.Fatalf("ListQueue failed: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != pending {
		t.Errorf("expected only the pending task in the default listing, got %d rows", len(queue))
	}

	history, err := repo.ListQueue(ctx, storage.QueueFilter{History: true, OrderBy: "created_at"})
	if err != nil {
		t.Fatalf("ListQueue history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected syndicated and ignored tasks in history, got %d", len(history))
	}

	svc := "bluesky"
	filtered, err := repo.ListQueue(ctx, storage.QueueFilter{History: true, Service: &svc})
	if err != nil {
		t.Fatalf("ListQueue filtered failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != ignored {
		t.Errorf("expected only the bluesky task, got %d rows", len(filtered))
	}
}

func TestMarkSyndicatedPlaceholder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkSyndicated(ctx, id, ""); err != nil {
		t.Fatalf("MarkSyndicated failed: %v", err)
	}

	task, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.SyndicatedURL != models.PlaceholderURL {
		t.Errorf("expected placeholder URL, got %q", task.SyndicatedURL)
	}
	if task.State() != models.TaskStateSyndicated {
		t.Errorf("expected syndicated state, got %s", task.State())
	}
}

func TestSyndicatedWinsOverIgnored(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkSyndicated(ctx, id, "https://platform.example/1"); err != nil {
		t.Fatalf("MarkSyndicated failed: %v", err)
	}
	if err := repo.MarkIgnored(ctx, id, true); err != nil {
		t.Fatalf("MarkIgnored failed: %v", err)
	}

	task, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.State() != models.TaskStateSyndicated {
		t.Errorf("syndicated must win over ignored, got %s", task.State())
	}
	if task.SyndicatedAt == nil {
		t.Error("ignoring must not clear the syndication record")
	}
}

func TestUnignoreResets(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkSyndicated(ctx, id, "https://platform.example/1"); err != nil {
		t.Fatalf("MarkSyndicated failed: %v", err)
	}
	if err := repo.MarkIgnored(ctx, id, true); err != nil {
		t.Fatalf("MarkIgnored failed: %v", err)
	}

	if err := repo.Unignore(ctx, id, 30*time.Minute); err != nil {
		t.Fatalf("Unignore failed: %v", err)
	}

	task, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.State() != models.TaskStatePending {
		t.Errorf("expected pending after unignore, got %s", task.State())
	}
	if task.SyndicatedAt != nil || task.SyndicatedURL != "" {
		t.Error("unignore must clear the syndication record")
	}
	if remaining := time.Until(task.ReadyAt); remaining < 25*time.Minute || remaining > 30*time.Minute {
		t.Errorf("expected a fresh delay window, ready_at in %v", remaining)
	}
}

func TestSyndicatedWithin(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	now := time.Now().UTC()
	hourStart := now.Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour - time.Second)

	posted, err := repo.SyndicatedWithin(ctx, hourStart, hourEnd)
	if err != nil {
		t.Fatalf("SyndicatedWithin failed: %v", err)
	}
	if posted {
		t.Error("expected empty window before any syndication")
	}

	if err := repo.MarkSyndicated(ctx, id, "https://platform.example/1"); err != nil {
		t.Fatalf("MarkSyndicated failed: %v", err)
	}

	posted, err = repo.SyndicatedWithin(ctx, hourStart, hourEnd)
	if err != nil {
		t.Fatalf("SyndicatedWithin failed: %v", err)
	}
	if !posted {
		t.Error("expected the fresh syndication inside the current hour")
	}

	posted, err = repo.SyndicatedWithin(ctx, hourStart.Add(-time.Hour), hourStart.Add(-time.Second))
	if err != nil {
		t.Fatalf("SyndicatedWithin failed: %v", err)
	}
	if posted {
		t.Error("expected no syndication in the previous hour")
	}
}

func TestFind(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, "post-1", "mastodon", snapshot("hello"), 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := repo.Find(ctx, "post-1", "mastodon")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if task.ID != id {
		t.Errorf("Find returned task %d, want %d", task.ID, id)
	}

	if _, err := repo.Find(ctx, "post-1", "bluesky"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for untracked pair, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Get, got %v", err)
	}
	if err := repo.MarkSyndicated(ctx, 9999, "https://x.example/1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound from MarkSyndicated, got %v", err)
	}
	if err := repo.MarkIgnored(ctx, 9999, true); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound from MarkIgnored, got %v", err)
	}
	if err := repo.Unignore(ctx, 9999, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Unignore, got %v", err)
	}
}
