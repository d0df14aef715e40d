package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/infrastructure/extraction"
	"github.com/facturio/invoicing-engine/infrastructure/validation"
	"github.com/facturio/invoicing-engine/pkg/metrics"
	"github.com/facturio/invoicing-engine/shared/common"
)

// IngestDocumentUseCase turns an uploaded document into a reviewed batch
// awaiting confirmation: extract, validate ceilings, flag discrepancies,
// persist with a TTL.
type IngestDocumentUseCase struct {
	registry   *extraction.Registry
	guard      *validation.Guard
	batchStore repository.BatchStore
	batchTTL   time.Duration
	maxBytes   int64
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewIngestDocumentUseCase creates an IngestDocumentUseCase
func NewIngestDocumentUseCase(
	registry *extraction.Registry,
	guard *validation.Guard,
	batchStore repository.BatchStore,
	batchTTL time.Duration,
	maxBytes int64,
	collector *metrics.Collector,
	logger *zap.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestDocumentUseCase{
		registry:   registry,
		guard:      guard,
		batchStore: batchStore,
		batchTTL:   batchTTL,
		maxBytes:   maxBytes,
		collector:  collector,
		logger:     logger,
	}
}

// IngestDocumentRequest describes one uploaded document
type IngestDocumentRequest struct {
	OwnerID    string
	TenantID   string
	CustomerID string
	RawBytes   []byte
	FormatHint extraction.Format
}

// SectionSummary is the per-section review line shown to the user before
// confirmation.
type SectionSummary struct {
	SourceLabel   string                        `json:"source_label"`
	ServiceCount  int                           `json:"service_count"`
	ComputedTotal float64                       `json:"computed_total"`
	Discrepancy   *validation.DiscrepancyReport `json:"discrepancy,omitempty"`
}

// RejectedSection records a section excluded by the validation guard
type RejectedSection struct {
	SourceLabel string `json:"source_label"`
	Reason      string `json:"reason"`
}

// IngestDocumentResponse is the review summary for the confirmation step
type IngestDocumentResponse struct {
	BatchID          string            `json:"batch_id"`
	ExpiresAt        time.Time         `json:"expires_at"`
	Sections         []SectionSummary  `json:"sections"`
	RejectedSections []RejectedSection `json:"rejected_sections,omitempty"`
	EmptySections    []string          `json:"empty_sections,omitempty"`
}

// Execute parses the document and persists a batch awaiting confirmation
func (uc *IngestDocumentUseCase) Execute(ctx context.Context, req *IngestDocumentRequest) (*IngestDocumentResponse, error) {
	if len(req.RawBytes) == 0 {
		return nil, common.NewAppError(common.ErrCodeInvalidInput, "document is empty")
	}
	if uc.maxBytes > 0 && int64(len(req.RawBytes)) > uc.maxBytes {
		return nil, common.NewAppError(common.ErrCodeInvalidInput, "document exceeds size limit").
			WithContext("size", len(req.RawBytes))
	}

	parsed, err := uc.registry.Parse(ctx, req.RawBytes, req.FormatHint)
	if err != nil {
		if uc.collector != nil {
			uc.collector.ParseErrors.WithLabelValues(string(extraction.DetectFormat(req.RawBytes))).Inc()
		}
		return nil, err
	}

	response := &IngestDocumentResponse{EmptySections: parsed.EmptySections}

	var accepted []entity.CanonicalLineItem
	for _, item := range parsed.LineItems {
		computed := item.ComputedTotal()

		if err := uc.guard.ValidateAmount(computed, req.TenantID, item.SourceLabel); err != nil {
			// Hard reject of this item only; siblings continue.
			response.RejectedSections = append(response.RejectedSections, RejectedSection{
				SourceLabel: item.SourceLabel,
				Reason:      err.Error(),
			})
			continue
		}

		summary := SectionSummary{
			SourceLabel:   item.SourceLabel,
			ServiceCount:  len(item.Services),
			ComputedTotal: computed,
		}
		if item.HasDeclaredTotal {
			report := uc.guard.DetectDiscrepancy(computed, item.DeclaredTotal)
			if report.Exceeds {
				summary.Discrepancy = &report
				if uc.collector != nil {
					uc.collector.DiscrepanciesSeen.Inc()
				}
			}
		}

		response.Sections = append(response.Sections, summary)
		accepted = append(accepted, item)
	}

	if len(accepted) == 0 {
		return nil, common.NewAppError(common.ErrCodeParse, "document yielded no invoiceable sections")
	}

	b := entity.NewBatch(req.OwnerID, req.TenantID, req.CustomerID, accepted, uc.batchTTL)
	if err := uc.batchStore.Save(ctx, req.OwnerID, b.BatchID, b, uc.batchTTL); err != nil {
		return nil, err
	}

	response.BatchID = b.BatchID
	response.ExpiresAt = b.ExpiresAt

	uc.logger.Info("Document ingested",
		zap.String("owner_id", req.OwnerID),
		zap.String("tenant_id", req.TenantID),
		zap.String("batch_id", b.BatchID),
		zap.Int("sections", len(accepted)),
		zap.Int("rejected", len(response.RejectedSections)))

	return response, nil
}
