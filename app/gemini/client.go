// Package gemini drives the generation backend: article generation and
// regeneration, fact checking and content moderation.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/lysyi3m/feedpress/app/document"
	"github.com/lysyi3m/feedpress/app/feed"
)

const maxSourceRunes = 12000

// request is one prompt sent to the model.
type request struct {
	system      string
	prompt      string
	json        bool
	temperature float32
	safety      []*genai.SafetySetting
}

// backend is the part of the genai API the client depends on.
type backend interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
	close() error
}

type genaiBackend struct {
	client *genai.Client
	model  string
}

func (b *genaiBackend) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetTemperature(req.temperature)
	if req.json {
		model.ResponseMIMEType = "application/json"
	}
	if req.system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	model.SafetySettings = req.safety

	return model.GenerateContent(ctx, genai.Text(req.prompt))
}

func (b *genaiBackend) close() error {
	return b.client.Close()
}

type Options struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
	Language          string
}

type Client struct {
	backend  backend
	limiter  *rate.Limiter
	language string
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newClient(&genaiBackend{client: client, model: opts.Model}, opts), nil
}

func newClient(b backend, opts Options) *Client {
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}

	return &Client{
		backend:  b,
		limiter:  rate.NewLimiter(limit, 1),
		language: opts.Language,
	}
}

func (c *Client) Close() error {
	return c.backend.close()
}

// Generate writes a new document from the extracted source article.
func (c *Client) Generate(ctx context.Context, src *feed.ExtractedContent) (*document.Document, error) {
	return c.document(ctx, generatePrompt(src, c.language), src)
}

// Regenerate rewrites prior so that it addresses feedback.
func (c *Client) Regenerate(ctx context.Context, src *feed.ExtractedContent, prior *document.Document, feedback string) (*document.Document, error) {
	priorJSON, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode prior document: %w", err)
	}

	return c.document(ctx, regeneratePrompt(src, c.language, string(priorJSON), feedback), src)
}

func (c *Client) document(ctx context.Context, prompt string, src *feed.ExtractedContent) (*document.Document, error) {
	text, err := c.call(ctx, request{
		system:      writerInstruction,
		prompt:      prompt,
		json:        true,
		temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	doc, err := document.Decode(text)
	if err != nil {
		return nil, err
	}

	attribute(doc, src)
	if doc.Language == "" {
		doc.Language = c.language
	}

	return doc, nil
}

// attribute overwrites the model's source block with what was actually
// extracted; attribution never comes from generated text.
func attribute(doc *document.Document, src *feed.ExtractedContent) {
	doc.Source = document.Source{
		URL:         src.URL,
		Publisher:   publisherName(src),
		PublishedAt: src.PublishedTime,
	}
}

func publisherName(src *feed.ExtractedContent) string {
	if src.SiteName != "" {
		return src.SiteName
	}
	host := src.URL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}

type factCheckResponse struct {
	Score       *float64 `json:"score"`
	Unsupported []string `json:"unsupported"`
}

// FactCheck asks the model how well claims are supported by sourceText and
// returns a score in [0,1].
func (c *Client) FactCheck(ctx context.Context, sourceText string, claims []string) (float64, error) {
	text, err := c.call(ctx, request{
		system:      checkerInstruction,
		prompt:      factCheckPrompt(truncate(sourceText, maxSourceRunes), claims),
		json:        true,
		temperature: 0,
	})
	if err != nil {
		return 0, err
	}

	var resp factCheckResponse
	if err := json.Unmarshal([]byte(stripFences(text)), &resp); err != nil {
		return 0, fmt.Errorf("failed to parse fact check response: %w", err)
	}
	if resp.Score == nil || *resp.Score < 0 || *resp.Score > 1 {
		return 0, fmt.Errorf("fact check score missing or out of range")
	}

	if len(resp.Unsupported) > 0 {
		slog.Debug("Fact check found unsupported claims", "count", len(resp.Unsupported))
	}

	return *resp.Score, nil
}

// Moderation is the classifier verdict for one text.
type Moderation struct {
	Flagged    bool
	Categories []string
}

type moderationResponse struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories"`
}

// Moderate classifies text. The model's own safety ratings and its JSON
// verdict are merged; a blocked prompt counts as flagged.
func (c *Client) Moderate(ctx context.Context, text string) (Moderation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Moderation{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.backend.generate(ctx, request{
		system:      moderatorInstruction,
		prompt:      moderationPrompt(text),
		json:        true,
		temperature: 0,
		safety:      reportOnlySafety(),
	})

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		categories := flaggedCategories(nil, blocked.PromptFeedback, blocked.Candidate)
		if len(categories) == 0 {
			categories = []string{"blocked"}
		}
		return Moderation{Flagged: true, Categories: categories}, nil
	}
	if err != nil {
		return Moderation{}, fmt.Errorf("moderation request failed: %w", err)
	}

	var candidate *genai.Candidate
	if len(resp.Candidates) > 0 {
		candidate = resp.Candidates[0]
	}
	categories := flaggedCategories(nil, resp.PromptFeedback, candidate)

	var verdict moderationResponse
	if raw := responseText(resp); raw != "" {
		if err := json.Unmarshal([]byte(stripFences(raw)), &verdict); err != nil {
			return Moderation{}, fmt.Errorf("failed to parse moderation response: %w", err)
		}
	}
	if verdict.Flagged {
		categories = appendUnique(categories, verdict.Categories...)
		if len(verdict.Categories) == 0 {
			categories = appendUnique(categories, "unspecified")
		}
	}

	return Moderation{Flagged: len(categories) > 0, Categories: categories}, nil
}

func (c *Client) call(ctx context.Context, req request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.backend.generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: no response from Gemini", document.ErrMalformed)
	}

	slog.Debug("Gemini call completed", "duration", time.Since(start), "response_length", len(text))
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

var harmNames = map[genai.HarmCategory]string{
	genai.HarmCategoryHarassment:       "harassment",
	genai.HarmCategoryHateSpeech:       "hate_speech",
	genai.HarmCategorySexuallyExplicit: "sexually_explicit",
	genai.HarmCategoryDangerousContent: "dangerous_content",
}

func reportOnlySafety() []*genai.SafetySetting {
	settings := make([]*genai.SafetySetting, 0, len(harmNames))
	for _, category := range []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	} {
		settings = append(settings, &genai.SafetySetting{Category: category, Threshold: genai.HarmBlockNone})
	}
	return settings
}

func flaggedCategories(out []string, feedback *genai.PromptFeedback, candidate *genai.Candidate) []string {
	var ratings []*genai.SafetyRating
	if feedback != nil {
		ratings = append(ratings, feedback.SafetyRatings...)
	}
	if candidate != nil {
		ratings = append(ratings, candidate.SafetyRatings...)
	}

	for _, r := range ratings {
		if r == nil {
			continue
		}
		if r.Blocked || r.Probability >= genai.HarmProbabilityMedium {
			name, ok := harmNames[r.Category]
			if !ok {
				name = fmt.Sprintf("category_%d", r.Category)
			}
			out = appendUnique(out, name)
		}
	}
	return out
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	trimmed := string(runes[:maxRunes])
	if idx := strings.LastIndex(trimmed, ". "); idx > maxRunes/2 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed + "\n[TRUNCATED]"
}
