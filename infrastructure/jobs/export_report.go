package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// ReportExporter renders a batch generation report to an XLSX artifact. It
// runs as an async job because large reports take long enough to block a
// conversational caller.
type ReportExporter struct {
	artifactDir string
	logger      *zap.Logger
}

// NewReportExporter creates a report exporter
func NewReportExporter(artifactDir string, logger *zap.Logger) *ReportExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportExporter{artifactDir: artifactDir, logger: logger}
}

var reportHeaders = []string{"Section", "Status", "Invoice ID", "Series", "Folio", "Total", "Error"}

// Handle implements the export_report job kind
func (e *ReportExporter) Handle(ctx context.Context, job *entity.AsyncJob, progress func(int)) (string, error) {
	var report entity.BatchGenerationReport
	if err := json.Unmarshal(job.Payload, &report); err != nil {
		return "", common.WrapError(err, common.ErrCodeInvalidInput, "malformed report payload")
	}

	progress(10)

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	for i, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return "", common.WrapError(err, common.ErrCodeInternal, "failed to write report header")
		}
	}

	failedStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "9A0511"}})

	// Coarse milestones only: one update every 10% of rows, not per row.
	milestone := len(report.Results) / 10
	if milestone == 0 {
		milestone = 1
	}

	for i, result := range report.Results {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		row := i + 2
		values := []interface{}{
			result.SourceLabel,
			string(result.Status),
			result.ExternalInvoiceID,
			result.Series,
			result.Folio,
			result.Total,
			result.ErrorMessage,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return "", common.WrapError(err, common.ErrCodeInternal, "failed to write report row")
			}
		}

		if result.Status == entity.InvoiceStatusFailed {
			start, _ := excelize.CoordinatesToCellName(1, row)
			end, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(sheet, start, end, failedStyle)
		}

		if (i+1)%milestone == 0 {
			progress(10 + 80*(i+1)/len(report.Results))
		}
	}

	if err := os.MkdirAll(e.artifactDir, 0o755); err != nil {
		return "", common.WrapError(err, common.ErrCodeInternal, "failed to create artifact directory")
	}

	path := filepath.Join(e.artifactDir, fmt.Sprintf("report-%s-%s.xlsx", report.BatchID, job.JobID))
	if err := f.SaveAs(path); err != nil {
		return "", common.WrapError(err, common.ErrCodeInternal, "failed to save report artifact")
	}

	progress(100)

	e.logger.Info("Report exported",
		zap.String("batch_id", report.BatchID),
		zap.String("artifact", path),
		zap.Int("rows", len(report.Results)))
	return path, nil
}
