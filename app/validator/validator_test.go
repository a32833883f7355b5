package validator

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/lysyi3m/feedpress/app/document/doctest"
	"github.com/lysyi3m/feedpress/app/gemini"
)

type fakeFacts struct {
	score float64
	err   error
	calls int
}

func (f *fakeFacts) FactCheck(_ context.Context, _ string, claims []string) (float64, error) {
	f.calls++
	return f.score, f.err
}

type fakeModerator struct {
	result gemini.Moderation
	err    error
	text   string
}

func (f *fakeModerator) Moderate(_ context.Context, text string) (gemini.Moderation, error) {
	f.text = text
	return f.result, f.err
}

const unrelatedSource = "The city council approved a new budget for public transport on Tuesday after a long debate about bus lanes."

func TestValidateSingleFactViolation(t *testing.T) {
	v := New(&fakeFacts{score: 0.85}, &fakeModerator{}, DefaultThresholds())

	result, err := v.Validate(context.Background(), doctest.Valid(), unrelatedSource)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if result.Valid {
		t.Error("Expected invalid result")
	}
	if !result.NeedsRegeneration {
		t.Error("Expected regeneration to be needed")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected exactly one violation, got %v", result.Violations)
	}
	if !strings.Contains(result.Violations[0], "fact accuracy") {
		t.Errorf("Expected fact accuracy violation, got %q", result.Violations[0])
	}
	if result.Similarity > 0.8 || result.CitationRatio > 0.15 {
		t.Errorf("Expected other checks to pass, got similarity %.2f citation %.2f", result.Similarity, result.CitationRatio)
	}
}

func TestValidatePasses(t *testing.T) {
	moderator := &fakeModerator{}
	v := New(&fakeFacts{score: 0.95}, moderator, DefaultThresholds())

	doc := doctest.Valid()
	result, err := v.Validate(context.Background(), doc, unrelatedSource)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !result.Valid || result.NeedsRegeneration || len(result.Violations) != 0 {
		t.Errorf("Expected valid result, got %+v", result)
	}
	if moderator.text != doc.Text() {
		t.Error("Expected moderation of the full document text")
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	doc := doctest.Valid()
	doc.EditorNote = `"` + strings.Repeat("quoted words ", 40) + `"`

	moderator := &fakeModerator{result: gemini.Moderation{Flagged: true, Categories: []string{"violence"}}}
	v := New(&fakeFacts{score: 0.2}, moderator, DefaultThresholds())

	result, err := v.Validate(context.Background(), doc, doc.Text())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	expected := []Check{CheckFactAccuracy, CheckSimilarity, CheckCitation, CheckModeration}
	if len(result.Failed) != len(expected) {
		t.Fatalf("Expected %d failures, got %v (%v)", len(expected), result.Failed, result.Violations)
	}
	for i, c := range expected {
		if result.Failed[i] != c {
			t.Errorf("Failure %d: expected %v, got %v", i, c, result.Failed[i])
		}
	}
	if !strings.Contains(result.Violations[3], "violence") {
		t.Errorf("Expected flagged category in violation, got %q", result.Violations[3])
	}
}

func TestValidateFactCheckErrorDegrades(t *testing.T) {
	v := New(&fakeFacts{err: errors.New("quota exceeded")}, &fakeModerator{}, DefaultThresholds())

	result, err := v.Validate(context.Background(), doctest.Valid(), unrelatedSource)
	if err != nil {
		t.Fatalf("Expected fact check error to be absorbed, got %v", err)
	}
	if result.FactAccuracy != NeutralFactAccuracy {
		t.Errorf("Expected neutral score, got %v", result.FactAccuracy)
	}
	if result.Valid {
		t.Error("Expected neutral score to fail the accuracy threshold")
	}
}

func TestValidateModerationErrorIsReturned(t *testing.T) {
	v := New(&fakeFacts{score: 1}, &fakeModerator{err: errors.New("unavailable")}, DefaultThresholds())

	if _, err := v.Validate(context.Background(), doctest.Valid(), unrelatedSource); err == nil {
		t.Error("Expected moderation error to be returned")
	}
}

func TestCitationRatio(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
	}{
		{"empty", "", 0},
		{"no quotes", "plain text only", 0},
		{"straight quotes", `ab"cdef"gh`, 0.4},
		{"curly quotes", "ab“cdef”gh", 0.4},
		{"guillemets", "ab«cdef»gh", 0.4},
		{"german quotes", "ab„cdef“gh", 0.4},
		{"unclosed", `ab"cdefgh`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CitationRatio(tt.text)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CitationRatio(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestCitationRatioMonotonicInQuotedSpans(t *testing.T) {
	const segments = 10

	previous := -1.0
	for quotedSpans := 0; quotedSpans <= segments; quotedSpans++ {
		var b strings.Builder
		for i := 0; i < segments; i++ {
			if i < quotedSpans {
				b.WriteString(`"xxxxxxxx"`)
			} else {
				b.WriteString("yyyyyyyyyy")
			}
		}

		text := b.String()
		if len(text) != segments*10 {
			t.Fatalf("Expected fixed length, got %d", len(text))
		}

		ratio := CitationRatio(text)
		if ratio < previous {
			t.Errorf("Ratio decreased from %v to %v at %d spans", previous, ratio, quotedSpans)
		}
		previous = ratio
	}
}

func TestGenerateFeedback(t *testing.T) {
	result := Result{
		Failed:            []Check{CheckFactAccuracy, CheckCitation, CheckModeration},
		FactAccuracy:      0.85,
		CitationRatio:     0.2,
		FlaggedCategories: []string{"violence"},
	}

	feedback := GenerateFeedback(result)
	if feedback != GenerateFeedback(result) {
		t.Error("Expected deterministic feedback")
	}

	lines := strings.Split(feedback, "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 instructions, got %q", feedback)
	}
	if !strings.HasPrefix(lines[0], "1. Fact accuracy was 0.85") {
		t.Errorf("Unexpected first instruction: %q", lines[0])
	}
	if !strings.Contains(lines[1], "20%") {
		t.Errorf("Expected citation percentage, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "violence") {
		t.Errorf("Expected flagged category, got %q", lines[2])
	}

	if GenerateFeedback(Result{}) != "" {
		t.Error("Expected empty feedback for a passing result")
	}
}

func TestSchemaFeedback(t *testing.T) {
	feedback := SchemaFeedback([]string{"title must be 10-120 characters, got 3"})
	if !strings.Contains(feedback, "2. Fix: title must be 10-120 characters, got 3.") {
		t.Errorf("Unexpected schema feedback: %q", feedback)
	}
}

func TestPlainText(t *testing.T) {
	if got := plainText("no markup"); got != "no markup" {
		t.Errorf("Expected text untouched, got %q", got)
	}
	if got := plainText("<b>bold</b> move"); got != "bold move" {
		t.Errorf("Expected tags stripped, got %q", got)
	}
}
