// Package bluesky syndicates content to Bluesky over the AT protocol.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/facet"
	"github.com/notmyhostname/posse/internal/models"
	"github.com/notmyhostname/posse/internal/render"
	"github.com/notmyhostname/posse/internal/service"
	"github.com/notmyhostname/posse/pkg/logger"
	"github.com/notmyhostname/posse/pkg/ratelimit"
)

// Name is the platform tag for Bluesky tasks.
const Name = "bluesky"

const requestTimeout = 30 * time.Second

// Blob mime types uploadBlob accepts for post embeds.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Adapter posts records to Bluesky. The API token is expected in
// "handle:app-password" form; a fresh session is created per post.
type Adapter struct {
	cfg        config.ServiceConfig
	helper     *service.Helper
	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
	log        *logger.Logger
}

func New(cfg config.ServiceConfig, helper *service.Helper, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		helper:     helper,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    limiter,
		log:        log.WithComponent("bluesky"),
	}
}

func (a *Adapter) Name() string { return Name }

// TagStyle keeps underscores, matching Bluesky's hashtag grammar.
func (a *Adapter) TagStyle() render.TagStyle { return render.TagAllowUnderscore }

type session struct {
	AccessJWT string `json:"accessJwt"`
	DID       string `json:"did"`
}

type blobResponse struct {
	Blob json.RawMessage `json:"blob"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Syndicate creates a session, uploads any images as blobs and creates
// an app.bsky.feed.post record with link and hashtag facets.
func (a *Adapter) Syndicate(ctx context.Context, task *models.SyndicationTask, item content.Item, text string) service.Result {
	if a.cfg.InstanceURL == "" {
		return service.Errorf("bluesky instance URL is not configured")
	}
	handle, password, ok := strings.Cut(a.cfg.APIToken, ":")
	if !ok || handle == "" || password == "" {
		return service.Errorf("bluesky API token must be in handle:app-password form")
	}

	instance := strings.TrimRight(a.cfg.InstanceURL, "/")

	sess, err := a.createSession(ctx, instance, handle, password)
	if err != nil {
		return service.Errorf("failed to authenticate with bluesky: %v", err)
	}

	text = sanitize(text)

	var images []map[string]interface{}
	for _, upload := range a.helper.PrepareImages(item, a.cfg.ImageLimit) {
		if !allowedImageTypes[upload.Mime] {
			a.log.Warn().Str("image", upload.Path).Str("mime", upload.Mime).Msg("Unsupported image type, skipping")
			continue
		}
		uploaded, err := a.uploadBlob(ctx, instance, sess, upload)
		if err != nil {
			a.log.Warn().Err(err).Str("image", upload.Path).Msg("Failed to upload blob, skipping")
			continue
		}
		images = append(images, map[string]interface{}{
			"alt":   upload.Alt,
			"image": uploaded,
		})
	}

	record := map[string]interface{}{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if facets := buildFacets(text); len(facets) > 0 {
		record["facets"] = facets
	}
	if len(images) > 0 {
		record["embed"] = map[string]interface{}{
			"$type":  "app.bsky.embed.images",
			"images": images,
		}
	}

	created, err := a.createRecord(ctx, instance, sess, record)
	if err != nil {
		return service.Errorf("failed to post to bluesky: %v", err)
	}

	rkey := created.URI[strings.LastIndex(created.URI, "/")+1:]
	if rkey == "" {
		return service.Errorf("bluesky response contained no record key: %q", created.URI)
	}

	permalink := fmt.Sprintf("https://bsky.app/profile/%s/post/%s", sess.DID, rkey)
	if err := a.helper.RecordSuccess(ctx, task, permalink); err != nil {
		return service.Errorf("posted but failed to record success: %v", err)
	}

	a.log.Info().
		Uint("task_id", task.ID).
		Str("url", permalink).
		Int("images", len(images)).
		Msg("Syndicated to Bluesky")

	return service.Success(permalink, "successfully syndicated to Bluesky")
}

// sanitize strips control characters the record schema rejects and makes
// sure URLs are preceded by whitespace so their facets render as links.
func sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	// A URL glued to the previous word would not be detected as a facet.
	cleaned = strings.ReplaceAll(cleaned, "http://", " http://")
	cleaned = strings.ReplaceAll(cleaned, "https://", " https://")
	cleaned = strings.ReplaceAll(cleaned, "\n http", "\nhttp")
	cleaned = strings.ReplaceAll(cleaned, "  http", " http")

	return render.NormalizeNewlines(cleaned)
}

// buildFacets converts extracted facets into AT protocol richtext form.
func buildFacets(text string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range facet.Extract(text) {
		var feature map[string]interface{}
		switch f.Kind {
		case facet.KindLink:
			feature = map[string]interface{}{
				"$type": "app.bsky.richtext.facet#link",
				"uri":   f.Value,
			}
		case facet.KindHashtag:
			feature = map[string]interface{}{
				"$type": "app.bsky.richtext.facet#tag",
				"tag":   f.Value,
			}
		default:
			continue
		}
		out = append(out, map[string]interface{}{
			"index": map[string]interface{}{
				"byteStart": f.ByteStart,
				"byteEnd":   f.ByteEnd,
			},
			"features": []map[string]interface{}{feature},
		})
	}
	return out
}

func (a *Adapter) createSession(ctx context.Context, instance, handle, password string) (*session, error) {
	payload := map[string]string{
		"identifier": handle,
		"password":   password,
	}
	var sess session
	if err := a.postJSON(ctx, instance+"/xrpc/com.atproto.server.createSession", "", payload, &sess); err != nil {
		return nil, err
	}
	if sess.AccessJWT == "" || sess.DID == "" {
		return nil, fmt.Errorf("session response missing credentials")
	}
	return &sess, nil
}

// uploadBlob pushes raw image bytes and returns the blob reference to
// embed in the post record.
func (a *Adapter) uploadBlob(ctx context.Context, instance string, sess *session, upload service.Upload) (json.RawMessage, error) {
	if err := a.limiter.Wait(ctx, ratelimit.LimiterBluesky); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", instance+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(upload.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", upload.Mime)
	req.Header.Set("Authorization", "Bearer "+sess.AccessJWT)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("blob upload rejected: %s - %s", resp.Status, string(body))
	}

	var br blobResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, fmt.Errorf("failed to parse blob response: %w", err)
	}
	if len(br.Blob) == 0 {
		return nil, fmt.Errorf("blob response did not contain a blob")
	}
	return br.Blob, nil
}

func (a *Adapter) createRecord(ctx context.Context, instance string, sess *session, record map[string]interface{}) (*createRecordResponse, error) {
	payload := map[string]interface{}{
		"repo":       sess.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}
	var created createRecordResponse
	if err := a.postJSON(ctx, instance+"/xrpc/com.atproto.repo.createRecord", sess.AccessJWT, payload, &created); err != nil {
		return nil, err
	}
	if created.URI == "" {
		return nil, fmt.Errorf("record response did not contain a URI")
	}
	return &created, nil
}

// postJSON sends one JSON request and decodes the JSON response.
func (a *Adapter) postJSON(ctx context.Context, endpoint, token string, payload, out interface{}) error {
	if err := a.limiter.Wait(ctx, ratelimit.LimiterBluesky); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request rejected: %s - %s", resp.Status, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
