// Package validator decides whether a generated document may move on to
// scoring, and tells the generator what to fix when it may not.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/feedpress/app/document"
	"github.com/lysyi3m/feedpress/app/gemini"
	"github.com/lysyi3m/feedpress/app/similarity"
)

// NeutralFactAccuracy is used when the fact checker is unavailable.
const NeutralFactAccuracy = 0.5

const shingleSize = 3

type FactChecker interface {
	FactCheck(ctx context.Context, sourceText string, claims []string) (float64, error)
}

type Moderator interface {
	Moderate(ctx context.Context, text string) (gemini.Moderation, error)
}

type Check int

const (
	CheckFactAccuracy Check = iota
	CheckSimilarity
	CheckCitation
	CheckModeration
)

type Thresholds struct {
	MinFactAccuracy  float64
	MaxSimilarity    float64
	MaxCitationRatio float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFactAccuracy:  0.9,
		MaxSimilarity:    0.8,
		MaxCitationRatio: 0.15,
	}
}

type Result struct {
	Valid             bool
	Violations        []string
	Failed            []Check
	FactAccuracy      float64
	Similarity        float64
	CitationRatio     float64
	FlaggedCategories []string
	NeedsRegeneration bool
}

func (r Result) failed(c Check) bool {
	for _, f := range r.Failed {
		if f == c {
			return true
		}
	}
	return false
}

type Validator struct {
	facts      FactChecker
	moderator  Moderator
	thresholds Thresholds
}

func New(facts FactChecker, moderator Moderator, thresholds Thresholds) *Validator {
	return &Validator{facts: facts, moderator: moderator, thresholds: thresholds}
}

// Validate runs every check and collects every failure. The returned error is
// reserved for a moderation backend failure: an unmoderated document is never
// passed.
func (v *Validator) Validate(ctx context.Context, doc *document.Document, sourceText string) (Result, error) {
	text := plainText(doc.Text())

	result := Result{
		FactAccuracy:  v.factAccuracy(ctx, doc, sourceText),
		Similarity:    similarity.ShingleContainment(text, sourceText, shingleSize),
		CitationRatio: CitationRatio(text),
	}

	if result.FactAccuracy < v.thresholds.MinFactAccuracy {
		result.fail(CheckFactAccuracy, fmt.Sprintf("fact accuracy %.2f is below %.2f", result.FactAccuracy, v.thresholds.MinFactAccuracy))
	}
	if result.Similarity > v.thresholds.MaxSimilarity {
		result.fail(CheckSimilarity, fmt.Sprintf("similarity to source %.2f exceeds %.2f", result.Similarity, v.thresholds.MaxSimilarity))
	}
	if result.CitationRatio > v.thresholds.MaxCitationRatio {
		result.fail(CheckCitation, fmt.Sprintf("citation ratio %.2f exceeds %.2f", result.CitationRatio, v.thresholds.MaxCitationRatio))
	}

	moderation, err := v.moderator.Moderate(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("moderation unavailable: %w", err)
	}
	if moderation.Flagged {
		result.FlaggedCategories = moderation.Categories
		result.fail(CheckModeration, "moderation flagged: "+strings.Join(moderation.Categories, ", "))
	}

	result.Valid = len(result.Failed) == 0
	result.NeedsRegeneration = !result.Valid

	return result, nil
}

func (r *Result) fail(c Check, message string) {
	r.Failed = append(r.Failed, c)
	r.Violations = append(r.Violations, message)
}

func (v *Validator) factAccuracy(ctx context.Context, doc *document.Document, sourceText string) float64 {
	score, err := v.facts.FactCheck(ctx, sourceText, doc.Claims())
	if err != nil {
		slog.Warn("Fact check failed, using neutral score", "error", err, "score", NeutralFactAccuracy)
		return NeutralFactAccuracy
	}
	return score
}

// GenerateFeedback turns a failed result into the instruction list sent with
// a regeneration request. The same result always yields the same text.
func GenerateFeedback(r Result) string {
	var lines []string

	if r.failed(CheckFactAccuracy) {
		lines = append(lines, fmt.Sprintf("Fact accuracy was %.2f. State only facts the source explicitly supports; correct or remove every unsupported claim.", r.FactAccuracy))
	}
	if r.failed(CheckSimilarity) {
		lines = append(lines, fmt.Sprintf("The text overlaps the source at %.2f. Rewrite it in your own words and do not reuse source phrasing or sentence structure.", r.Similarity))
	}
	if r.failed(CheckCitation) {
		lines = append(lines, fmt.Sprintf("Direct quotations make up %.0f%% of the text. Keep quotations under 15%% and paraphrase the rest.", r.CitationRatio*100))
	}
	if r.failed(CheckModeration) {
		lines = append(lines, fmt.Sprintf("Remove content flagged as %s. Keep the tone neutral and factual.", strings.Join(r.FlaggedCategories, ", ")))
	}

	return numbered(lines)
}

// SchemaFeedback builds regeneration instructions from document schema
// problems.
func SchemaFeedback(problems []string) string {
	lines := make([]string, 0, len(problems)+1)
	lines = append(lines, "The previous answer did not match the required JSON structure.")
	for _, p := range problems {
		lines = append(lines, "Fix: "+p+".")
	}
	return numbered(lines)
}

func numbered(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	return strings.TrimRight(b.String(), "\n")
}

// plainText drops any markup the model put into its fields.
func plainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
