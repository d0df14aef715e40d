package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// CSVParser extracts a single-section document: the whole file is one
// service table and yields at most one line-item.
type CSVParser struct {
	logger *zap.Logger
}

// NewCSVParser creates a CSV parser
func NewCSVParser(logger *zap.Logger) *CSVParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVParser{logger: logger}
}

// Format returns the source format this parser handles
func (p *CSVParser) Format() Format { return FormatCSV }

// Detect applies the shared CSV heuristic
func (p *CSVParser) Detect(raw []byte) bool {
	return looksLikeCSV(raw)
}

// Parse extracts a line-item from the CSV table
func (p *CSVParser) Parse(ctx context.Context, raw []byte) (*entity.ParsedDocument, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	doc := &entity.ParsedDocument{Format: string(FormatCSV)}
	item := entity.CanonicalLineItem{SourceLabel: "csv"}

	var columns columnMap
	headerFound := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeParse, "malformed CSV record")
		}

		if !headerFound {
			if m, ok := mapHeaderRow(row); ok {
				columns = m
				headerFound = true
			}
			continue
		}

		if declared, ok := columns.declaredTotalFromRow(row); ok {
			item.DeclaredTotal = declared
			item.HasDeclaredTotal = true
			continue
		}

		if service, ok := columns.serviceFromRow(row); ok {
			item.Services = append(item.Services, service)
		}
	}

	if item.IsEmpty() {
		doc.EmptySections = append(doc.EmptySections, item.SourceLabel)
		return doc, nil
	}

	doc.LineItems = append(doc.LineItems, item)
	return doc, nil
}
