package feed

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/document/doctest"
)

func storedArticle(t *testing.T, id, title, postURL string, publishedAt time.Time) database.Article {
	t.Helper()

	doc := doctest.Valid()
	doc.Title = title
	doc.SEO.MetaDescription = "Meta description for " + title

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	return database.Article{
		ID:          id,
		Title:       title,
		Category:    "film",
		SourceURL:   "https://variety.com/source/" + id,
		Document:    string(raw),
		PostURL:     postURL,
		PublishedAt: publishedAt,
	}
}

func testChannel() Channel {
	return Channel{
		Title:    "Feedpress",
		Link:     "https://cms.example.com",
		SelfLink: "https://feedpress.example.com/feeds/published",
		Language: "en",
		Version:  "1.2.3",
	}
}

func TestGenerateRSS(t *testing.T) {
	generator := NewGenerator()

	newest := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	articles := []database.Article{
		storedArticle(t, "a1", "Studio greenlights sequel", "https://cms.example.com/p/1", newest),
		storedArticle(t, "a2", "Festival lineup <announced> & more", "", newest.Add(-time.Hour)),
	}

	rss, err := generator.Run(testChannel(), articles)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var parsed struct {
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title string `xml:"title"`
				Link  string `xml:"link"`
				GUID  string `xml:"guid"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal([]byte(rss), &parsed); err != nil {
		t.Fatalf("Generated RSS is not valid XML: %v", err)
	}

	if parsed.Channel.Title != "Feedpress" {
		t.Errorf("Expected channel title 'Feedpress', got %q", parsed.Channel.Title)
	}
	if len(parsed.Channel.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(parsed.Channel.Items))
	}
	if parsed.Channel.Items[0].Link != "https://cms.example.com/p/1" {
		t.Errorf("Expected post URL as link, got %q", parsed.Channel.Items[0].Link)
	}
	if parsed.Channel.Items[1].Link != "https://variety.com/source/a2" {
		t.Errorf("Expected source URL fallback, got %q", parsed.Channel.Items[1].Link)
	}
	if parsed.Channel.Items[1].GUID != "a2" {
		t.Errorf("Expected article id as guid, got %q", parsed.Channel.Items[1].GUID)
	}
	if parsed.Channel.Items[1].Title != "Festival lineup <announced> & more" {
		t.Errorf("Expected round-tripped title, got %q", parsed.Channel.Items[1].Title)
	}

	checks := []string{
		`<guid isPermaLink="true">https://cms.example.com/p/1</guid>`,
		`<guid isPermaLink="false">a2</guid>`,
		"<lastBuildDate>" + newest.Format(time.RFC1123Z) + "</lastBuildDate>",
		"<generator>Feedpress/1.2.3</generator>",
		`<atom:link href="https://feedpress.example.com/feeds/published" rel="self"`,
		"<description>Meta description for Studio greenlights sequel</description>",
		"<category>film</category>",
		"<category>premiere</category>",
		"<content:encoded><![CDATA[",
	}
	for _, check := range checks {
		if !strings.Contains(rss, check) {
			t.Errorf("Expected RSS to contain %q", check)
		}
	}
}

func TestGenerateWithEmptyItems(t *testing.T) {
	generator := NewGenerator()

	rss, err := generator.Run(Channel{Title: "Empty"}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if strings.Contains(rss, "<item>") {
		t.Error("Expected no items")
	}
	if !strings.Contains(rss, "<description>Recently published articles</description>") {
		t.Error("Expected default channel description")
	}
	if strings.Contains(rss, "<atom:link") {
		t.Error("Expected no self link when none is configured")
	}
}

func TestGenerateRejectsCorruptDocument(t *testing.T) {
	generator := NewGenerator()

	article := database.Article{ID: "bad", Title: "Broken", Document: "{not json", PublishedAt: time.Now()}
	if _, err := generator.Run(testChannel(), []database.Article{article}); err == nil {
		t.Error("Expected error for a corrupt stored document")
	}
}
