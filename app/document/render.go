package document

import (
	"bytes"
	"fmt"
	"html/template"
)

var bodyTemplate = template.Must(template.New("body").Parse(`<p class="lead"><strong>{{.Lead}}</strong></p>
<h2>Key facts</h2>
<ul>
{{- range .Facts}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- range .Background}}
<h2>{{.Heading}}</h2>
<p>{{.Body}}</p>
{{- end}}
<h2>Editor's note</h2>
<p><em>{{.EditorNote}}</em></p>
<p class="source">Source: <a href="{{.Source.URL}}" rel="nofollow noopener">{{.Source.Publisher}}</a>
{{- with .Source.PublishedAt}} ({{.Format "2006-01-02"}}){{end}}</p>
`))

// RenderHTML renders the post body. Every field is escaped.
func RenderHTML(d *Document) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return buf.String(), nil
}
