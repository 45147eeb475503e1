// Package export renders a board's reconstructed text as rich-text blocks,
// HTML, Markdown or PDF.
package export

import (
	"errors"
	"time"

	"curio/api/internal/reconstruct"
)

// Format represents the export output format
type Format string

const (
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "md"
)

// ParseFormat maps a query value to a Format, defaulting to PDF.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "":
		return FormatPDF, nil
	case FormatHTML, FormatPDF, FormatMarkdown:
		return Format(value), nil
	case "markdown":
		return FormatMarkdown, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	BoardID string
	Version string // "latest" or commit hash
	Format  Format
}

// Document is the board content an export is rendered from.
type Document struct {
	ID        string
	Title     string
	Text      string
	Blocks    Node
	Markers   []reconstruct.Marker
	Author    string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates board content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat is returned for an unknown format.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
