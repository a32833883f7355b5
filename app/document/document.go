// Package document defines the localized-summary artifact produced by the
// generation backend and its well-formedness rules.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrMalformed = errors.New("malformed document")

type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type SEO struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Tags            []string `json:"tags"`
}

type Source struct {
	URL         string     `json:"url"`
	Publisher   string     `json:"publisher"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Document is one generation attempt. Regeneration produces a new Document;
// documents are never edited in place by the pipeline.
type Document struct {
	Language   string    `json:"language"`
	Title      string    `json:"title"`
	Lead       string    `json:"lead"`
	Facts      []string  `json:"facts"`
	Background []Section `json:"background"`
	EditorNote string    `json:"editor_note"`
	SEO        SEO       `json:"seo"`
	Source     Source    `json:"source"`
}

type bounds struct {
	min, max int
}

func (b bounds) contains(n int) bool {
	return n >= b.min && n <= b.max
}

var (
	titleLen       = bounds{10, 120}
	leadLen        = bounds{50, 600}
	factCount      = bounds{5, 7}
	factLen        = bounds{10, 300}
	headingLen     = bounds{2, 100}
	sectionBodyLen = bounds{50, 2000}
	editorNoteLen  = bounds{20, 800}
	seoTitleLen    = bounds{10, 70}
	metaDescLen    = bounds{50, 170}
	tagCount       = bounds{3, 10}
)

const BackgroundCount = 3

// Decode parses a generator response. Markdown code fences around the JSON
// payload are tolerated; anything else that is not a JSON object is malformed.
func Decode(raw string) (*Document, error) {
	payload := stripFences(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	doc.trim()
	return &doc, nil
}

// Problems lists every schema violation. An empty result means the document
// is well-formed.
func (d *Document) Problems() []string {
	var problems []string

	check := func(name, value string, b bounds) {
		if n := utf8.RuneCountInString(value); !b.contains(n) {
			problems = append(problems, fmt.Sprintf("%s must be %d-%d characters, got %d", name, b.min, b.max, n))
		}
	}

	if d.Language == "" {
		problems = append(problems, "language is required")
	}

	check("title", d.Title, titleLen)
	check("lead", d.Lead, leadLen)

	if !factCount.contains(len(d.Facts)) {
		problems = append(problems, fmt.Sprintf("facts must contain %d-%d items, got %d", factCount.min, factCount.max, len(d.Facts)))
	}
	for i, fact := range d.Facts {
		check(fmt.Sprintf("fact %d", i+1), fact, factLen)
	}

	if len(d.Background) != BackgroundCount {
		problems = append(problems, fmt.Sprintf("background must contain exactly %d sections, got %d", BackgroundCount, len(d.Background)))
	}
	for i, section := range d.Background {
		check(fmt.Sprintf("background %d heading", i+1), section.Heading, headingLen)
		check(fmt.Sprintf("background %d body", i+1), section.Body, sectionBodyLen)
	}

	check("editor note", d.EditorNote, editorNoteLen)
	check("SEO title", d.SEO.Title, seoTitleLen)
	check("meta description", d.SEO.MetaDescription, metaDescLen)

	if !tagCount.contains(len(d.SEO.Tags)) {
		problems = append(problems, fmt.Sprintf("tags must contain %d-%d items, got %d", tagCount.min, tagCount.max, len(d.SEO.Tags)))
	}
	for i, tag := range d.SEO.Tags {
		if tag == "" {
			problems = append(problems, fmt.Sprintf("tag %d is empty", i+1))
		}
	}

	if d.Source.URL == "" {
		problems = append(problems, "source URL is required")
	}
	if d.Source.Publisher == "" {
		problems = append(problems, "source publisher is required")
	}

	return problems
}

// Check returns ErrMalformed wrapping all schema violations, or nil.
func (d *Document) Check() error {
	problems := d.Problems()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMalformed, strings.Join(problems, "; "))
}

// Text concatenates every reader-facing field, in reading order.
func (d *Document) Text() string {
	parts := []string{d.Title, d.Lead}
	parts = append(parts, d.Facts...)
	for _, section := range d.Background {
		parts = append(parts, section.Heading, section.Body)
	}
	parts = append(parts, d.EditorNote)

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

// Claims returns the statements a fact check should verify.
func (d *Document) Claims() []string {
	claims := make([]string, 0, len(d.Facts)+1)
	if d.Lead != "" {
		claims = append(claims, d.Lead)
	}
	return append(claims, d.Facts...)
}

func (d *Document) trim() {
	d.Language = strings.TrimSpace(d.Language)
	d.Title = strings.TrimSpace(d.Title)
	d.Lead = strings.TrimSpace(d.Lead)
	for i := range d.Facts {
		d.Facts[i] = strings.TrimSpace(d.Facts[i])
	}
	for i := range d.Background {
		d.Background[i].Heading = strings.TrimSpace(d.Background[i].Heading)
		d.Background[i].Body = strings.TrimSpace(d.Background[i].Body)
	}
	d.EditorNote = strings.TrimSpace(d.EditorNote)
	d.SEO.Title = strings.TrimSpace(d.SEO.Title)
	d.SEO.MetaDescription = strings.TrimSpace(d.SEO.MetaDescription)
	for i := range d.SEO.Tags {
		d.SEO.Tags[i] = strings.TrimSpace(d.SEO.Tags[i])
	}
	d.Source.URL = strings.TrimSpace(d.Source.URL)
	d.Source.Publisher = strings.TrimSpace(d.Source.Publisher)
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
