package extraction

import (
	"bytes"
	"context"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// XLSXParser extracts one canonical line-item per workbook sheet. Insurer
// workbooks routinely mix service tables with cover sheets and pivot tabs;
// sheets without a recognizable service table are reported as empty.
type XLSXParser struct {
	logger *zap.Logger
}

// NewXLSXParser creates a spreadsheet parser
func NewXLSXParser(logger *zap.Logger) *XLSXParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XLSXParser{logger: logger}
}

// Format returns the source format this parser handles
func (p *XLSXParser) Format() Format { return FormatXLSX }

// Detect reports whether the bytes carry the xlsx zip signature
func (p *XLSXParser) Detect(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("PK\x03\x04"))
}

// Parse extracts line-items from every sheet of the workbook
func (p *XLSXParser) Parse(ctx context.Context, raw []byte) (*entity.ParsedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeParse, "failed to open workbook")
	}
	defer f.Close()

	doc := &entity.ParsedDocument{Format: string(FormatXLSX)}

	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeParse, "failed to read sheet").WithContext("sheet", sheet)
		}

		item, ok := p.parseSheet(sheet, rows)
		if !ok {
			doc.EmptySections = append(doc.EmptySections, sheet)
			continue
		}
		doc.LineItems = append(doc.LineItems, item)
	}

	p.logger.Debug("Workbook parsed",
		zap.Int("line_items", len(doc.LineItems)),
		zap.Int("empty_sections", len(doc.EmptySections)))
	return doc, nil
}

// parseSheet scans for a header row, then collects service rows until the
// table ends. A trailing TOTAL row supplies the declared total.
func (p *XLSXParser) parseSheet(sheet string, rows [][]string) (entity.CanonicalLineItem, bool) {
	item := entity.CanonicalLineItem{SourceLabel: sheet}

	var columns columnMap
	headerFound := false

	for _, row := range rows {
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
		return entity.CanonicalLineItem{}, false
	}
	return item, true
}
