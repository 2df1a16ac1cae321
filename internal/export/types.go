// Package export renders pages as Markdown or PDF downloads.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the short and long spellings used by clients.
func ParseFormat(value string) (Format, bool) {
	switch value {
	case "md", "markdown":
		return FormatMarkdown, true
	case "pdf":
		return FormatPDF, true
	default:
		return "", false
	}
}

// Document is the page content to export
type Document struct {
	Title     string
	Icon      string
	HTML      string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates no headless browser is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat is returned for formats other than md and pdf.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
