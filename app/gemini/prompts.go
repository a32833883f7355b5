package gemini

import (
	"fmt"
	"strings"

	"github.com/lysyi3m/feedpress/app/feed"
)

const writerInstruction = `You are a news editor. You write original summaries of source articles
in your own words. You never copy sentences from the source and quote it
sparingly. You answer with a single JSON object and nothing else.`

const checkerInstruction = `You are a fact checker. You compare claims against a source text and
answer with a single JSON object and nothing else.`

const moderatorInstruction = `You are a content safety classifier for a news publication. You answer
with a single JSON object and nothing else.`

const documentShape = `{
  "language": "<ISO 639-1 code>",
  "title": "<headline, 20-80 characters>",
  "lead": "<opening paragraph, 100-300 characters>",
  "facts": ["<5 to 7 short factual bullets>"],
  "background": [
    {"heading": "<section heading>", "body": "<200-600 characters>"},
    {"heading": "<section heading>", "body": "<200-600 characters>"},
    {"heading": "<section heading>", "body": "<200-600 characters>"}
  ],
  "editor_note": "<editorial comment, 50-300 characters>",
  "seo": {
    "title": "<10-70 characters>",
    "meta_description": "<50-170 characters>",
    "tags": ["<5 to 10 tags>"]
  },
  "source": {"url": "<source url>", "publisher": "<publisher name>"}
}`

func sourceBlock(src *feed.ExtractedContent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", src.URL)
	if src.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", src.Title)
	}
	if src.SiteName != "" {
		fmt.Fprintf(&b, "Publisher: %s\n", src.SiteName)
	}
	if src.Byline != "" {
		fmt.Fprintf(&b, "Byline: %s\n", src.Byline)
	}
	if src.PublishedTime != nil {
		fmt.Fprintf(&b, "Published: %s\n", src.PublishedTime.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "\nText:\n%s\n", truncate(src.Text, maxSourceRunes))
	return b.String()
}

func generatePrompt(src *feed.ExtractedContent, language string) string {
	return fmt.Sprintf(`Write a summary article in language %q based on the source below.

Rules:
- Use your own wording; do not reproduce source sentences.
- Keep direct quotations under 15%% of the text.
- State only facts present in the source.
- Exactly three background sections.

Answer with JSON in this shape:
%s

SOURCE
%s`, language, documentShape, sourceBlock(src))
}

func regeneratePrompt(src *feed.ExtractedContent, language, priorJSON, feedback string) string {
	return fmt.Sprintf(`Your previous article in language %q was rejected. Rewrite it so that
every point below is addressed. Keep the same JSON shape.

REQUIRED CHANGES
%s

PREVIOUS ARTICLE
%s

Answer with JSON in this shape:
%s

SOURCE
%s`, language, feedback, priorJSON, documentShape, sourceBlock(src))
}

func factCheckPrompt(sourceText string, claims []string) string {
	var b strings.Builder
	for i, claim := range claims {
		fmt.Fprintf(&b, "%d. %s\n", i+1, claim)
	}

	return fmt.Sprintf(`Rate how accurately the claims are supported by the source text.

Answer with JSON: {"score": <number between 0 and 1>, "unsupported": ["<claim text>", ...]}
A score of 1 means every claim is fully supported.

CLAIMS
%s
SOURCE TEXT
%s`, b.String(), sourceText)
}

func moderationPrompt(text string) string {
	return fmt.Sprintf(`Classify whether the article below is unsafe to publish. Consider hate
speech, harassment, sexual content, violence, self-harm and dangerous advice.

Answer with JSON: {"flagged": <true|false>, "categories": ["<category>", ...]}

ARTICLE
%s`, text)
}
