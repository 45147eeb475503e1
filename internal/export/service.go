package export

import (
	"context"
	"fmt"
	"html/template"
)

// Source loads the board content to export. version is "latest" or a
// history commit hash.
type Source interface {
	ExportDocument(ctx context.Context, boardID, version string) (Document, error)
}

// Service renders board exports.
type Service struct {
	source Source
	pdf    PDFRenderer
}

// NewService creates an export service. pdf may be nil, in which case PDF
// exports fail with ErrPDFDependencyMissing.
func NewService(source Source, pdf PDFRenderer) *Service {
	return &Service{source: source, pdf: pdf}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Version == "" {
		req.Version = "latest"
	}
	doc, err := s.source.ExportDocument(ctx, req.BoardID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	name := sanitizeFilename(doc.Title)

	switch req.Format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(doc.Text + "\n"),
			Filename: name + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	page, err := RenderDocumentHTML(TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(BlocksToHTML(doc.Blocks)),
		Markers:     doc.Markers,
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	if req.Format == FormatHTML {
		return &Result{Data: []byte(page), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}
	if s.pdf == nil {
		return nil, ErrPDFDependencyMissing
	}
	data, err := s.pdf(ctx, page)
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
}
