package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(
	template.New("page.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/page.html"),
)

// TemplateData holds data for page template rendering
type TemplateData struct {
	Title       string
	Icon        string
	ContentHTML template.HTML
	UpdatedAt   time.Time
}

// RenderPageHTML wraps the stored page HTML in a printable document. The page
// body is trusted editor output and is inserted unescaped; title and icon are
// escaped.
func RenderPageHTML(doc Document) (string, error) {
	data := TemplateData{
		Title:       doc.Title,
		Icon:        doc.Icon,
		ContentHTML: template.HTML(doc.HTML),
		UpdatedAt:   doc.UpdatedAt,
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
