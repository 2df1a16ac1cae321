package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHTMLToMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "heading paragraph and inline marks",
			input:    "<h1>Title</h1><p>Hello <strong>bold</strong> and <em>it</em></p>",
			expected: "# Title\n\nHello **bold** and *it*",
		},
		{
			name:     "all heading levels",
			input:    `<h1 class="x">One</h1><h2>Two</h2><h3>Three</h3>`,
			expected: "# One\n\n## Two\n\n### Three",
		},
		{
			name:     "b and i tags",
			input:    "<b>bold</b> <i>it</i>",
			expected: "**bold** *it*",
		},
		{
			name:     "unordered list",
			input:    "<ul><li>one</li><li>two</li></ul>",
			expected: "- one\n- two",
		},
		{
			name:     "ordered list",
			input:    "<ol><li>first</li></ol>",
			expected: "- first",
		},
		{
			name:     "link",
			input:    `<p>See <a href="https://flux.dev" target="_blank">the site</a></p>`,
			expected: "See [the site](https://flux.dev)",
		},
		{
			name:     "code block",
			input:    "<pre><code>x := 1</code></pre>",
			expected: "```\n`x := 1`\n```",
		},
		{
			name:     "inline code",
			input:    "<p>run <code>go test</code></p>",
			expected: "run `go test`",
		},
		{
			name:     "blockquote",
			input:    "<blockquote>wise words</blockquote>",
			expected: "> wise words",
		},
		{
			name:     "line breaks and entities",
			input:    "a<br>b<br/>c &amp; &lt;d&gt; &quot;e&quot; &#39;f&#39;&nbsp;g",
			expected: "a\nb\nc & <d> \"e\" 'f' g",
		},
		{
			name:     "entities decode in sequence",
			input:    "&amp;lt;",
			expected: "<",
		},
		{
			name:     "blank lines collapse",
			input:    "<p>a</p><p></p><p></p><p>b</p>",
			expected: "a\n\nb",
		},
		{
			name:     "malformed markup degrades",
			input:    "<p>unclosed <strong>bold",
			expected: "unclosed bold",
		},
		{
			name:     "unknown tags stripped",
			input:    `<div data-type="callout"><span>note</span></div>`,
			expected: "note",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := HTMLToMarkdown(tt.input)
			if result != tt.expected {
				t.Errorf("HTMLToMarkdown(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestMarkdownRoundTripPreservesStructure(t *testing.T) {
	source := "# Plan\n\n## Goals\n\n**ship** the *beta*\n\n- one\n- two"
	rendered := "<h1>Plan</h1><h2>Goals</h2><p><strong>ship</strong> the <em>beta</em></p><ul><li>one</li><li>two</li></ul>"

	if got := HTMLToMarkdown(rendered); got != source {
		t.Fatalf("round trip = %q, want %q", got, source)
	}
}

func TestMarkdownPrependsTitle(t *testing.T) {
	got := Markdown("Weekly Notes", "<p>body</p>")
	if got != "# Weekly Notes\n\nbody" {
		t.Fatalf("Markdown() = %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "hello_world"},
		{"My Document v1.2", "my_document_v1_2"},
		{"Special!@#$%Chars", "special_chars"},
		{"📝 Notes", "_notes"},
		{"", "untitled"},
		{"!!!", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderPageHTML(t *testing.T) {
	html, err := RenderPageHTML(Document{
		Title:     "<Roadmap>",
		Icon:      "📊",
		HTML:      "<p>This is the content.</p>",
		UpdatedAt: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RenderPageHTML() error = %v", err)
	}

	if !strings.Contains(html, "&lt;Roadmap&gt;") {
		t.Error("title should be escaped")
	}
	if !strings.Contains(html, "📊") {
		t.Error("HTML missing icon")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("page content should be inserted unescaped")
	}
	if !strings.Contains(html, "Mar 9, 2024") {
		t.Error("HTML missing last edited date")
	}
}

func TestExportMarkdown(t *testing.T) {
	svc := NewServiceWithRenderer(func(context.Context, string) ([]byte, error) {
		t.Fatal("pdf renderer should not run for markdown")
		return nil, nil
	})

	result, err := svc.Export(context.Background(), Document{Title: "Sprint Plan", HTML: "<h2>Goals</h2>"}, FormatMarkdown)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "sprint_plan.md" {
		t.Errorf("filename = %q", result.Filename)
	}
	if string(result.Data) != "# Sprint Plan\n\n## Goals" {
		t.Errorf("data = %q", result.Data)
	}
}

func TestExportPDFUsesRenderer(t *testing.T) {
	var seen string
	svc := NewServiceWithRenderer(func(_ context.Context, html string) ([]byte, error) {
		seen = html
		return []byte("%PDF-1.4"), nil
	})

	result, err := svc.Export(context.Background(), Document{Title: "Roadmap", Icon: "📚", HTML: "<p>body</p>"}, FormatPDF)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/pdf" || result.Filename != "roadmap.pdf" {
		t.Errorf("unexpected result %+v", result)
	}
	if !strings.Contains(seen, "<p>body</p>") || !strings.Contains(seen, "📚") {
		t.Errorf("renderer got unexpected html: %s", seen)
	}
}

func TestExportPDFPropagatesMissingBrowser(t *testing.T) {
	svc := NewServiceWithRenderer(func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	})
	_, err := svc.Export(context.Background(), Document{Title: "x"}, FormatPDF)
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("Export() error = %v, want ErrPDFDependencyMissing", err)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	_, err := NewService().Export(context.Background(), Document{Title: "x"}, Format("docx"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, ok := ParseFormat("markdown"); !ok || f != FormatMarkdown {
		t.Fatalf("ParseFormat(markdown) = %q, %v", f, ok)
	}
	if f, ok := ParseFormat("pdf"); !ok || f != FormatPDF {
		t.Fatalf("ParseFormat(pdf) = %q, %v", f, ok)
	}
	if _, ok := ParseFormat("docx"); ok {
		t.Fatal("docx should not parse")
	}
}
