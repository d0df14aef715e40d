package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// PDFParser extracts one canonical line-item per page of a vendor PDF.
// Vendor statements are positional text, not structured tables: a service
// row is a text line ending in two to four currency amounts
// (subtotal [vat [withholding]] total). Pages without service rows are
// reported as empty sections.
type PDFParser struct {
	logger *zap.Logger
}

// NewPDFParser creates a PDF parser
func NewPDFParser(logger *zap.Logger) *PDFParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFParser{logger: logger}
}

// Format returns the source format this parser handles
func (p *PDFParser) Format() Format { return FormatPDF }

// Detect reports whether the bytes carry the PDF signature
func (p *PDFParser) Detect(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("%PDF-"))
}

// Parse extracts line-items from every page of the document
func (p *PDFParser) Parse(ctx context.Context, raw []byte) (*entity.ParsedDocument, error) {
	doc, err := fitz.NewFromMemory(raw)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeParse, "failed to open PDF")
	}
	defer doc.Close()

	parsed := &entity.ParsedDocument{Format: string(FormatPDF)}

	for page := 0; page < doc.NumPage(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		label := fmt.Sprintf("page %d", page+1)

		text, err := doc.Text(page)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeParse, "failed to extract page text").WithContext("page", page+1)
		}

		item, ok := p.parsePage(label, text)
		if !ok {
			parsed.EmptySections = append(parsed.EmptySections, label)
			continue
		}
		parsed.LineItems = append(parsed.LineItems, item)
	}

	p.logger.Debug("PDF parsed",
		zap.Int("line_items", len(parsed.LineItems)),
		zap.Int("empty_sections", len(parsed.EmptySections)))
	return parsed, nil
}

// parsePage scans the page text for service rows and a declared total
func (p *PDFParser) parsePage(label, text string) (entity.CanonicalLineItem, bool) {
	item := entity.CanonicalLineItem{SourceLabel: label}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if isTotalLabel(line) || strings.HasPrefix(strings.ToLower(line), "total") {
			if amounts, _ := trailingAmounts(line); len(amounts) > 0 {
				item.DeclaredTotal = amounts[len(amounts)-1]
				item.HasDeclaredTotal = true
			}
			continue
		}

		if service, ok := serviceFromTextLine(line); ok {
			item.Services = append(item.Services, service)
		}
	}

	if item.IsEmpty() {
		return entity.CanonicalLineItem{}, false
	}
	return item, true
}

// serviceFromTextLine splits a line into a leading description and trailing
// amounts: subtotal total | subtotal vat total | subtotal vat withholding total.
func serviceFromTextLine(line string) (entity.ServiceEntry, bool) {
	amounts, description := trailingAmounts(line)
	if description == "" || len(amounts) < 2 || len(amounts) > 4 {
		return entity.ServiceEntry{}, false
	}

	service := entity.ServiceEntry{Description: description}
	switch len(amounts) {
	case 2:
		service.Subtotal, service.Total = amounts[0], amounts[1]
	case 3:
		service.Subtotal, service.VATAmount, service.Total = amounts[0], amounts[1], amounts[2]
	case 4:
		service.Subtotal, service.VATAmount, service.WithholdingAmount, service.Total = amounts[0], amounts[1], amounts[2], amounts[3]
	}
	return service, true
}

// trailingAmounts peels numeric tokens off the end of a line and returns
// them in reading order, plus the remaining description prefix.
func trailingAmounts(line string) ([]float64, string) {
	tokens := strings.Fields(line)

	var reversed []float64
	i := len(tokens) - 1
	for ; i >= 0; i-- {
		value, ok := parseAmount(tokens[i])
		if !ok {
			break
		}
		reversed = append(reversed, value)
	}

	amounts := make([]float64, 0, len(reversed))
	for j := len(reversed) - 1; j >= 0; j-- {
		amounts = append(amounts, reversed[j])
	}
	return amounts, strings.Join(tokens[:i+1], " ")
}
