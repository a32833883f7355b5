package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/lysyi3m/feedpress/app/document"
	"github.com/lysyi3m/feedpress/app/feed"
)

type fakeBackend struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	requests  []request
}

func (f *fakeBackend) generate(_ context.Context, req request) (*genai.GenerateContentResponse, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp *genai.GenerateContentResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func (f *fakeBackend) close() error { return nil }

func textResponse(text string, ratings ...*genai.SafetyRating) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:       &genai.Content{Parts: []genai.Part{genai.Text(text)}},
			SafetyRatings: ratings,
		}},
	}
}

func testSource() *feed.ExtractedContent {
	published := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return &feed.ExtractedContent{
		URL:           "https://www.variety.com/2026/film/news/sequel",
		Title:         "Studio greenlights sequel",
		Text:          "The studio confirmed the sequel on Friday.",
		PublishedTime: &published,
	}
}

const modelDocument = "```json\n" + `{
  "language": "",
  "title": "Studio confirms long awaited sequel",
  "lead": "The studio has confirmed that a sequel is in development.",
  "facts": ["a", "b"],
  "background": [],
  "editor_note": "note",
  "seo": {"title": "t", "meta_description": "m", "tags": []},
  "source": {"url": "https://made-up.example", "publisher": "Made Up"}
}` + "\n```"

func TestGenerateAttributesSource(t *testing.T) {
	fb := &fakeBackend{responses: []*genai.GenerateContentResponse{textResponse(modelDocument)}}
	client := newClient(fb, Options{Language: "de"})

	doc, err := client.Generate(context.Background(), testSource())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if doc.Source.URL != testSource().URL {
		t.Errorf("Expected source URL from extraction, got %s", doc.Source.URL)
	}
	if doc.Source.Publisher != "variety.com" {
		t.Errorf("Expected publisher derived from host, got %s", doc.Source.Publisher)
	}
	if doc.Source.PublishedAt == nil {
		t.Error("Expected source publish time")
	}
	if doc.Language != "de" {
		t.Errorf("Expected configured language fallback, got %q", doc.Language)
	}

	req := fb.requests[0]
	if !req.json {
		t.Error("Expected JSON response mode")
	}
	if !strings.Contains(req.prompt, `language "de"`) || !strings.Contains(req.prompt, "The studio confirmed the sequel") {
		t.Errorf("Prompt is missing language or source text: %s", req.prompt)
	}
}

func TestGenerateMalformed(t *testing.T) {
	tests := map[string]*genai.GenerateContentResponse{
		"prose":       textResponse("Sure! Here is your article."),
		"no content":  {Candidates: []*genai.Candidate{{}}},
		"no response": nil,
	}

	for name, resp := range tests {
		t.Run(name, func(t *testing.T) {
			fb := &fakeBackend{responses: []*genai.GenerateContentResponse{resp}}
			client := newClient(fb, Options{})

			_, err := client.Generate(context.Background(), testSource())
			if !errors.Is(err, document.ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestGenerateBackendError(t *testing.T) {
	fb := &fakeBackend{errs: []error{errors.New("googleapi: Error 429")}}
	client := newClient(fb, Options{})

	_, err := client.Generate(context.Background(), testSource())
	if err == nil || errors.Is(err, document.ErrMalformed) {
		t.Errorf("Expected a transport error, got %v", err)
	}
}

func TestRegenerateIncludesFeedback(t *testing.T) {
	fb := &fakeBackend{responses: []*genai.GenerateContentResponse{textResponse(modelDocument)}}
	client := newClient(fb, Options{Language: "en"})

	prior := &document.Document{Title: "Prior headline"}
	if _, err := client.Regenerate(context.Background(), testSource(), prior, "- Shorten the lead."); err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	prompt := fb.requests[0].prompt
	if !strings.Contains(prompt, "- Shorten the lead.") || !strings.Contains(prompt, "Prior headline") {
		t.Errorf("Prompt is missing feedback or prior document: %s", prompt)
	}
}

func TestFactCheck(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    float64
		wantErr bool
	}{
		{"valid", `{"score": 0.85, "unsupported": ["x"]}`, 0.85, false},
		{"fenced", "```json\n{\"score\": 1}\n```", 1, false},
		{"out of range", `{"score": 1.5}`, 0, true},
		{"missing score", `{"unsupported": []}`, 0, true},
		{"not json", `about 0.9`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{responses: []*genai.GenerateContentResponse{textResponse(tt.text)}}
			client := newClient(fb, Options{})

			got, err := client.FactCheck(context.Background(), "source", []string{"claim one", "claim two"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("FactCheck error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FactCheck = %v, want %v", got, tt.want)
			}
			if !strings.Contains(fb.requests[0].prompt, "2. claim two") {
				t.Error("Expected numbered claims in prompt")
			}
		})
	}
}

func TestModerate(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		fb := &fakeBackend{responses: []*genai.GenerateContentResponse{textResponse(`{"flagged": false}`,
			&genai.SafetyRating{Category: genai.HarmCategoryHarassment, Probability: genai.HarmProbabilityLow})}}
		got, err := newClient(fb, Options{}).Moderate(context.Background(), "text")
		if err != nil {
			t.Fatal(err)
		}
		if got.Flagged || len(got.Categories) != 0 {
			t.Errorf("Expected clean verdict, got %+v", got)
		}
		if len(fb.requests[0].safety) != 4 {
			t.Errorf("Expected report-only safety settings, got %d", len(fb.requests[0].safety))
		}
	})

	t.Run("rating and verdict are merged", func(t *testing.T) {
		fb := &fakeBackend{responses: []*genai.GenerateContentResponse{textResponse(`{"flagged": true, "categories": ["violence", "hate_speech"]}`,
			&genai.SafetyRating{Category: genai.HarmCategoryHateSpeech, Probability: genai.HarmProbabilityHigh})}}
		got, err := newClient(fb, Options{}).Moderate(context.Background(), "text")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Flagged || strings.Join(got.Categories, ",") != "hate_speech,violence" {
			t.Errorf("Unexpected verdict: %+v", got)
		}
	})

	t.Run("blocked prompt", func(t *testing.T) {
		blocked := &genai.BlockedError{PromptFeedback: &genai.PromptFeedback{
			SafetyRatings: []*genai.SafetyRating{{Category: genai.HarmCategoryDangerousContent, Blocked: true}},
		}}
		fb := &fakeBackend{errs: []error{blocked}}
		got, err := newClient(fb, Options{}).Moderate(context.Background(), "text")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Flagged || len(got.Categories) != 1 || got.Categories[0] != "dangerous_content" {
			t.Errorf("Unexpected verdict: %+v", got)
		}
	})

	t.Run("backend error", func(t *testing.T) {
		fb := &fakeBackend{errs: []error{errors.New("unavailable")}}
		if _, err := newClient(fb, Options{}).Moderate(context.Background(), "text"); err == nil {
			t.Error("Expected error")
		}
	})
}

func TestTruncate(t *testing.T) {
	short := "Short text."
	if truncate(short, 100) != short {
		t.Error("Expected short text untouched")
	}

	long := strings.Repeat("Sentence number one. ", 20)
	got := truncate(long, 100)
	if !strings.HasSuffix(got, "[TRUNCATED]") {
		t.Errorf("Expected truncation marker, got %q", got)
	}
	if len([]rune(got)) > 100+len("\n[TRUNCATED]") {
		t.Errorf("Truncated text too long: %d", len([]rune(got)))
	}
}
