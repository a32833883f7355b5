package document_test

import (
	"strings"
	"testing"

	"github.com/lysyi3m/feedpress/app/document"
	"github.com/lysyi3m/feedpress/app/document/doctest"
)

func TestRenderHTML(t *testing.T) {
	doc := doctest.Valid()
	doc.Lead = `Studio <script>alert("x")</script> confirms sequel`

	body, err := document.RenderHTML(doc)
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}

	if strings.Contains(body, "<script>") {
		t.Error("Expected lead to be escaped")
	}
	if strings.Count(body, "<li>") != len(doc.Facts) {
		t.Errorf("Expected %d fact items, got %d", len(doc.Facts), strings.Count(body, "<li>"))
	}
	for _, section := range doc.Background {
		if !strings.Contains(body, "<h2>"+section.Heading+"</h2>") {
			t.Errorf("Expected section heading %q", section.Heading)
		}
	}
	if !strings.Contains(body, `href="https://variety.com/`) {
		t.Error("Expected source link")
	}
	if !strings.Contains(body, "(2026-10-16)") {
		t.Error("Expected source publish date")
	}
}
