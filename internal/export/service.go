package export

import (
	"context"
	"fmt"
)

// PDFRenderer turns a full HTML document into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides page export functionality
type Service struct {
	renderPDF PDFRenderer
}

// NewService creates an export service printing PDFs with headless Chrome.
func NewService() *Service {
	return &Service{renderPDF: RenderPDF}
}

// NewServiceWithRenderer replaces the PDF backend, mainly for tests.
func NewServiceWithRenderer(renderer PDFRenderer) *Service {
	return &Service{renderPDF: renderer}
}

// Export generates a download in the requested format
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	switch format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(Markdown(doc.Title, doc.HTML)),
			Filename: SanitizeFilename(doc.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := RenderPageHTML(doc)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: SanitizeFilename(doc.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
