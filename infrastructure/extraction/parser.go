// Package extraction turns raw uploaded documents into canonical line-items.
// Parsers are pure transformations: all I/O (download, decode) happens in
// the caller.
package extraction

import (
	"bytes"
	"context"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// Format identifies a supported source document format
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatPDF     Format = "pdf"
	FormatUnknown Format = "unknown"
)

// DocumentParser is implemented once per known source format. A sub-section
// with no recognizable service records yields no line-item and is reported
// as empty, not as an error.
type DocumentParser interface {
	// Format returns the source format this parser handles.
	Format() Format

	// Detect reports whether the raw bytes look like this parser's format.
	Detect(raw []byte) bool

	// Parse extracts canonical line-items from the document.
	Parse(ctx context.Context, raw []byte) (*entity.ParsedDocument, error)
}

// DetectFormat sniffs the document shape to select a format
func DetectFormat(raw []byte) Format {
	switch {
	case bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return FormatXLSX
	case bytes.HasPrefix(raw, []byte("%PDF-")):
		return FormatPDF
	case looksLikeCSV(raw):
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// looksLikeCSV applies a cheap heuristic: printable text whose first line
// contains at least one comma.
func looksLikeCSV(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	head := raw
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		head = raw[:idx]
	}
	if !bytes.ContainsRune(head, ',') {
		return false
	}
	for _, b := range head {
		if b < 0x09 {
			return false
		}
	}
	return true
}

// Registry selects a parser for raw document bytes
type Registry struct {
	parsers []DocumentParser
}

// NewRegistry creates a registry over the given parsers, consulted in order
func NewRegistry(parsers ...DocumentParser) *Registry {
	return &Registry{parsers: parsers}
}

// ParserFor returns the parser matching the raw bytes, honoring an optional
// format hint before falling back to content sniffing.
func (r *Registry) ParserFor(raw []byte, hint Format) (DocumentParser, error) {
	if hint != "" && hint != FormatUnknown {
		for _, p := range r.parsers {
			if p.Format() == hint {
				return p, nil
			}
		}
	}

	for _, p := range r.parsers {
		if p.Detect(raw) {
			return p, nil
		}
	}

	return nil, common.NewAppError(common.ErrCodeUnsupportedFormat, "no parser recognizes this document")
}

// Parse selects a parser and runs it
func (r *Registry) Parse(ctx context.Context, raw []byte, hint Format) (*entity.ParsedDocument, error) {
	parser, err := r.ParserFor(raw, hint)
	if err != nil {
		return nil, err
	}
	return parser.Parse(ctx, raw)
}
