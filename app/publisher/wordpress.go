// Package publisher delivers finished documents to a WordPress site through
// its REST API.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/lysyi3m/feedpress/app/cfg"
	"github.com/lysyi3m/feedpress/app/document"
)

const (
	StatusPublish = "publish"
	StatusDraft   = "draft"

	maxResponseSize = 1 << 20
)

// Outcome describes one accepted post. Response is the raw body returned by
// the posts endpoint.
type Outcome struct {
	PostID   int64
	PostURL  string
	Status   string
	MediaID  int64
	Response string
}

// Error is returned for non-2xx replies. Body holds the raw payload so the
// caller can persist it with the failed attempt.
type Error struct {
	Endpoint   string
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned %d (%s): %s", e.Endpoint, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned %d", e.Endpoint, e.StatusCode)
}

type WordPress struct {
	baseURL  string
	user     string
	password string
	client   *http.Client
}

func NewWordPress(baseURL, user, appPassword string, timeout time.Duration) *WordPress {
	return &WordPress{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: appPassword,
		client:   &http.Client{Timeout: timeout},
	}
}

// Status picks the post status. Only auto mode with a positive score
// decision makes a post public.
func Status(mode cfg.PublishMode, shouldPublish bool) string {
	if mode == cfg.PublishModeAuto && shouldPublish {
		return StatusPublish
	}
	return StatusDraft
}

type postRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Excerpt       string `json:"excerpt"`
	Status        string `json:"status"`
	FeaturedMedia int64  `json:"featured_media,omitempty"`
}

type postResponse struct {
	ID     int64  `json:"id"`
	Link   string `json:"link"`
	Status string `json:"status"`
}

type mediaResponse struct {
	ID int64 `json:"id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Publish uploads the thumbnail, if any, and creates the post. A failed
// thumbnail upload is logged and the post goes out without featured media.
func (w *WordPress) Publish(ctx context.Context, doc *document.Document, thumbnail []byte, mode cfg.PublishMode, shouldPublish bool) (Outcome, error) {
	content, err := document.RenderHTML(doc)
	if err != nil {
		return Outcome{}, fmt.Errorf("render post body: %w", err)
	}

	var mediaID int64
	if len(thumbnail) > 0 {
		mediaID, err = w.uploadMedia(ctx, slug(doc.Title)+".png", thumbnail)
		if err != nil {
			slog.Warn("Thumbnail upload failed", "title", doc.Title, "error", err)
			mediaID = 0
		}
	}

	payload, err := json.Marshal(postRequest{
		Title:         doc.Title,
		Content:       content,
		Excerpt:       doc.SEO.MetaDescription,
		Status:        Status(mode, shouldPublish),
		FeaturedMedia: mediaID,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("encode post: %w", err)
	}

	body, err := w.do(ctx, "/wp-json/wp/v2/posts", "application/json", nil, payload)
	if err != nil {
		return Outcome{}, err
	}

	var post postResponse
	if err := json.Unmarshal(body, &post); err != nil {
		return Outcome{Response: string(body)}, fmt.Errorf("decode post response: %w", err)
	}
	if post.ID == 0 {
		return Outcome{Response: string(body)}, fmt.Errorf("post response has no id")
	}

	return Outcome{
		PostID:   post.ID,
		PostURL:  post.Link,
		Status:   post.Status,
		MediaID:  mediaID,
		Response: string(body),
	}, nil
}

func (w *WordPress) uploadMedia(ctx context.Context, filename string, data []byte) (int64, error) {
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, filename),
	}

	body, err := w.do(ctx, "/wp-json/wp/v2/media", "image/png", headers, data)
	if err != nil {
		return 0, err
	}

	var media mediaResponse
	if err := json.Unmarshal(body, &media); err != nil {
		return 0, fmt.Errorf("decode media response: %w", err)
	}
	if media.ID == 0 {
		return 0, fmt.Errorf("media response has no id")
	}
	return media.ID, nil
}

func (w *WordPress) do(ctx context.Context, endpoint, contentType string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(w.user, w.password)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			apiErr.Code = er.Code
			apiErr.Message = er.Message
		}
		return nil, apiErr
	}

	return body, nil
}

func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if len(s) > 60 {
		s = strings.TrimSuffix(s[:60], "-")
	}
	if s == "" {
		return "thumbnail"
	}
	return s
}
