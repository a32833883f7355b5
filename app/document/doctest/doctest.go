// Package doctest provides document fixtures for tests in other packages.
package doctest

import (
	"strings"
	"time"

	"github.com/lysyi3m/feedpress/app/document"
)

// Text returns a sentence-like string of exactly n runes.
func Text(n int) string {
	const filler = "Lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor. "
	s := strings.Repeat(filler, n/len(filler)+1)[:n]
	if strings.HasSuffix(s, " ") {
		s = s[:n-1] + "."
	}
	return s
}

// Valid returns a well-formed document that also earns every content-quality
// bonus: title 50, lead 150, five facts, 300-rune background bodies, a
// 100-rune editor note and five tags.
func Valid() *document.Document {
	published := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	return &document.Document{
		Language: "en",
		Title:    Text(50),
		Lead:     Text(150),
		Facts: []string{
			Text(60), Text(70), Text(80), Text(90), Text(100),
		},
		Background: []document.Section{
			{Heading: "Earlier career", Body: Text(300)},
			{Heading: "Industry context", Body: Text(300)},
			{Heading: "What comes next", Body: Text(300)},
		},
		EditorNote: Text(100),
		SEO: document.SEO{
			Title:           Text(40),
			MetaDescription: Text(120),
			Tags:            []string{"film", "music", "awards", "premiere", "celebrity"},
		},
		Source: document.Source{
			URL:         "https://variety.com/2026/film/news/example",
			Publisher:   "Variety",
			PublishedAt: &published,
		},
	}
}
