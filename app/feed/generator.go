package feed

import (
	"bytes"
	"cmp"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/document"
)

// Channel describes the outgoing RSS feed of published articles.
type Channel struct {
	Title       string
	Link        string
	Description string
	SelfLink    string
	Language    string
	Version     string
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Run renders published articles, newest first, as RSS 2.0.
func (g *Generator) Run(channel Channel, articles []database.Article) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", channel.Title, 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, "Recently published articles"), 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := time.Now()
	if len(articles) > 0 {
		lastBuildDate = articles[0].PublishedAt
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Feedpress/%s", channel.Version), 4)
	g.writeElement(&buf, "language", channel.Language, 4)

	for _, article := range articles {
		if err := g.writeItem(&buf, article); err != nil {
			return "", err
		}
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, article database.Article) error {
	var doc document.Document
	if err := json.Unmarshal([]byte(article.Document), &doc); err != nil {
		return fmt.Errorf("failed to decode stored document %s: %w", article.ID, err)
	}

	buf.WriteString("    <item>\n")

	link := cmp.Or(article.PostURL, article.SourceURL)
	buf.WriteString(fmt.Sprintf("      <guid isPermaLink=\"%t\">", article.PostURL != ""))
	xml.EscapeText(buf, []byte(cmp.Or(article.PostURL, article.ID)))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", article.Title, 6)
	g.writeElement(buf, "link", link, 6)
	g.writeElement(buf, "description", cmp.Or(doc.SEO.MetaDescription, doc.Lead), 6)

	if body, err := document.RenderHTML(&doc); err == nil {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(body)
		buf.WriteString("]]></content:encoded>\n")
	}

	g.writeElement(buf, "pubDate", article.PublishedAt.Format(time.RFC1123Z), 6)
	g.writeElement(buf, "category", article.Category, 6)

	for _, tag := range doc.SEO.Tags {
		g.writeElement(buf, "category", tag, 6)
	}

	buf.WriteString("    </item>\n")
	return nil
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
