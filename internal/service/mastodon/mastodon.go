// Package mastodon syndicates content to a Mastodon instance.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/render"
	"github.com/notmyhostname/posse/internal/service"
	"github.com/notmyhostname/posse/pkg/logger"
	"github.com/notmyhostname/posse/pkg/ratelimit"
)

// Name is the platform tag for Mastodon tasks.
const Name = "mastodon"

const requestTimeout = 30 * time.Second

// Adapter posts statuses to a Mastodon instance using a stored
// long-lived bearer token.
type Adapter struct {
	cfg        config.ServiceConfig
	helper     *service.Helper
	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
	log        *logger.Logger
}

// New creates the Mastodon adapter. The HTTP client carries the bearer
// token on every request through an oauth2 static token source.
func New(cfg config.ServiceConfig, helper *service.Helper, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Adapter {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = requestTimeout

	return &Adapter{
		cfg:        cfg,
		helper:     helper,
		httpClient: client,
		limiter:    limiter,
		log:        log.WithComponent("mastodon"),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) TagStyle() render.TagStyle { return render.TagAlphanumeric }

// mediaResponse is the relevant part of POST /api/v1/media
type mediaResponse struct {
	ID string `json:"id"`
}

// statusResponse is the relevant part of POST /api/v1/statuses
type statusResponse struct {
	ID      string `json:"id"`
	Account struct {
		Username string `json:"username"`
	} `json:"account"`
}

// Syndicate uploads the item's images and posts a public status. Failed
// image uploads are tolerated; the status is posted with whatever media
// made it through.
func (a *Adapter) Syndicate(ctx context.Context, task *models.SyndicationTask, item content.Item, text string) service.Result {
	if a.cfg.InstanceURL == "" {
		return service.Errorf("mastodon instance URL is not configured")
	}
	if a.cfg.APIToken == "" {
		return service.Errorf("mastodon API token is not configured")
	}

	instance := strings.TrimRight(a.cfg.InstanceURL, "/")

	var mediaIDs []string
	for _, upload := range a.helper.PrepareImages(item, a.cfg.ImageLimit) {
		id, err := a.uploadMedia(ctx, instance, upload)
		if err != nil {
			a.log.Warn().Err(err).Str("image", upload.Path).Msg("Failed to upload media, skipping")
			continue
		}
		mediaIDs = append(mediaIDs, id)
	}

	status, err := a.postStatus(ctx, instance, text, mediaIDs)
	if err != nil {
		return service.Errorf("failed to post to mastodon: %v", err)
	}
	if status.ID == "" {
		return service.Errorf("mastodon response did not contain a status ID")
	}

	permalink := fmt.Sprintf("%s/@%s/%s", instance, status.Account.Username, status.ID)
	if err := a.helper.RecordSuccess(ctx, task, permalink); err != nil {
		return service.Errorf("posted but failed to record success: %v", err)
	}

	a.log.Info().
		Uint("task_id", task.ID).
		Str("url", permalink).
		Int("media", len(mediaIDs)).
		Msg("Syndicated to Mastodon")

	return service.Success(permalink, "successfully syndicated to Mastodon")
}

// uploadMedia sends one image as multipart form data and returns the
// media ID Mastodon assigned.
func (a *Adapter) uploadMedia(ctx context.Context, instance string, upload service.Upload) (string, error) {
	if err := a.limiter.Wait(ctx, ratelimit.LimiterMastodon); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(upload.Path))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return "", fmt.Errorf("failed to write image data: %w", err)
	}
	if upload.Alt != "" {
		if err := w.WriteField("description", upload.Alt); err != nil {
			return "", fmt.Errorf("failed to write description: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", instance+"/api/v1/media", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("media upload rejected: %s - %s", resp.Status, string(body))
	}

	var media mediaResponse
	if err := json.Unmarshal(body, &media); err != nil {
		return "", fmt.Errorf("failed to parse media response: %w", err)
	}
	if media.ID == "" {
		return "", fmt.Errorf("media response did not contain an ID")
	}
	return media.ID, nil
}

// postStatus creates the public status. With media attached the API is
// called form-encoded (media_ids[] repetition), otherwise as JSON.
func (a *Adapter) postStatus(ctx context.Context, instance, text string, mediaIDs []string) (*statusResponse, error) {
	if err := a.limiter.Wait(ctx, ratelimit.LimiterMastodon); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	var reqBody io.Reader
	contentType := "application/json"

	if len(mediaIDs) > 0 {
		form := url.Values{}
		form.Set("status", text)
		form.Set("visibility", "public")
		for _, id := range mediaIDs {
			form.Add("media_ids[]", id)
		}
		reqBody = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		payload, err := json.Marshal(map[string]string{
			"status":     text,
			"visibility": "public",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", instance+"/api/v1/statuses", reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status rejected: %s - %s", resp.Status, string(body))
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}
