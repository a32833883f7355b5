package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const maxPageSize = 10 << 20

var ErrNoContent = errors.New("no content extracted")

type ContentExtractor struct {
	client    *http.Client
	userAgent string
}

func NewContentExtractor(userAgent string, timeout time.Duration) *ContentExtractor {
	return &ContentExtractor{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Run fetches pageURL and extracts the readable article from it.
func (e *ContentExtractor) Run(ctx context.Context, pageURL string) (*ExtractedContent, error) {
	data, err := e.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	return e.Parse(data, pageURL)
}

// Parse extracts the readable article from an already fetched page.
func (e *ContentExtractor) Parse(data []byte, pageURL string) (*ExtractedContent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("HTML data is empty")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	text := flattenHTML(article.Content)
	if text == "" {
		text = strings.TrimSpace(article.TextContent)
	}
	if text == "" {
		return nil, ErrNoContent
	}

	content := &ExtractedContent{
		URL:           pageURL,
		Title:         strings.TrimSpace(article.Title),
		Text:          text,
		Excerpt:       strings.TrimSpace(article.Excerpt),
		Byline:        strings.TrimSpace(article.Byline),
		SiteName:      strings.TrimSpace(article.SiteName),
		PublishedTime: article.PublishedTime,
	}

	slog.Debug("Content extracted successfully",
		"url", pageURL,
		"title", content.Title,
		"text_length", len(content.Text))

	return content, nil
}

func (e *ContentExtractor) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching page: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	return data, nil
}

// flattenHTML turns readability's cleaned HTML into plain text with one
// paragraph per line.
func flattenHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}

	var blocks []string
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li").Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}

	return strings.Join(blocks, "\n")
}
