package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/infrastructure/validation"
	"github.com/facturio/invoicing-engine/pkg/metrics"
	"github.com/facturio/invoicing-engine/shared/common"
)

// FolioLocker serializes folio-number-affecting provider calls per tenant
type FolioLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, maxRetries int, fn func(ctx context.Context) error) error
}

// GenerateBatchConfig controls the orchestrator
type GenerateBatchConfig struct {
	FolioLockTTL     time.Duration
	FolioLockRetries int
	MaxConcurrency   int
}

// GenerateBatchUseCase consumes a confirmed batch: per line-item it
// re-validates, serializes the provider call behind the tenant's folio lock,
// persists the issued invoice and classifies the outcome. One failing item
// never aborts its siblings.
type GenerateBatchUseCase struct {
	batchStore  repository.BatchStore
	guard       *validation.Guard
	locker      FolioLocker
	provider    repository.ProviderClient
	invoiceRepo repository.InvoiceRecordRepository
	gate        repository.SubscriptionGate
	sink        repository.NotificationSink
	cfg         GenerateBatchConfig
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewGenerateBatchUseCase creates a GenerateBatchUseCase
func NewGenerateBatchUseCase(
	batchStore repository.BatchStore,
	guard *validation.Guard,
	locker FolioLocker,
	provider repository.ProviderClient,
	invoiceRepo repository.InvoiceRecordRepository,
	gate repository.SubscriptionGate,
	sink repository.NotificationSink,
	cfg GenerateBatchConfig,
	collector *metrics.Collector,
	logger *zap.Logger,
) *GenerateBatchUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.FolioLockTTL <= 0 {
		cfg.FolioLockTTL = 30 * time.Second
	}

	return &GenerateBatchUseCase{
		batchStore:  batchStore,
		guard:       guard,
		locker:      locker,
		provider:    provider,
		invoiceRepo: invoiceRepo,
		gate:        gate,
		sink:        sink,
		cfg:         cfg,
		collector:   collector,
		logger:      logger,
	}
}

// GenerateBatchRequest identifies the confirmed batch and carries the
// tenant's provider credentials, resolved by the calling shell.
type GenerateBatchRequest struct {
	OwnerID     string
	BatchID     string
	Credentials repository.TenantCredentials
}

// Execute runs generation for every line-item of the batch. The batch is
// consumed (deleted) after the run whether or not individual items failed;
// a failed batch is re-submitted by the caller, never retried automatically.
func (uc *GenerateBatchUseCase) Execute(ctx context.Context, req *GenerateBatchRequest) (*entity.BatchGenerationReport, error) {
	// Subscription gate first: a disallowed tenant is rejected before any
	// provider call is attempted.
	allowed, reason, err := uc.gate.IsGenerationAllowed(ctx, req.Credentials.TenantID)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "subscription gate unavailable")
	}
	if !allowed {
		return nil, common.NewAppErrorWithDetails(common.ErrCodeSubscriptionBlocked,
			"tenant may not generate invoices", reason).
			WithContext("tenant_id", req.Credentials.TenantID)
	}

	b, err := uc.batchStore.Load(ctx, req.OwnerID, req.BatchID)
	if err != nil {
		return nil, err
	}

	report := &entity.BatchGenerationReport{
		BatchID:   b.BatchID,
		TenantID:  b.TenantID,
		Results:   make([]entity.InvoiceResult, len(b.LineItems)),
		StartedAt: time.Now().UTC(),
	}

	if err := uc.processItems(ctx, b, req.Credentials, report.Results); err != nil {
		// Lock timeouts and store outages are systemic: stop, leave the
		// batch in the store for a later re-submission within its TTL.
		return nil, err
	}

	for _, result := range report.Results {
		if result.Status == entity.InvoiceStatusSuccess {
			report.SucceededCount++
		} else {
			report.FailedCount++
		}
	}
	report.FinishedAt = time.Now().UTC()

	// One-shot consumption: delete regardless of per-item outcomes.
	if err := uc.batchStore.Delete(ctx, req.OwnerID, req.BatchID); err != nil {
		uc.logger.Warn("Failed to delete consumed batch",
			zap.String("batch_id", req.BatchID),
			zap.Error(err))
	} else if uc.collector != nil {
		uc.collector.BatchesConsumed.Inc()
	}

	uc.notify(req.OwnerID, report)

	uc.logger.Info("Batch generation finished",
		zap.String("batch_id", b.BatchID),
		zap.String("tenant_id", b.TenantID),
		zap.Int("succeeded", report.SucceededCount),
		zap.Int("failed", report.FailedCount))

	return report, nil
}

// processItems runs every line-item, optionally bounded-parallel. Results
// land at the item's document-order index regardless of completion order.
func (uc *GenerateBatchUseCase) processItems(ctx context.Context, b *entity.Batch, creds repository.TenantCredentials, results []entity.InvoiceResult) error {
	if uc.cfg.MaxConcurrency == 1 {
		for i := range b.LineItems {
			if err := uc.processItem(ctx, b, creds, i, results); err != nil {
				return err
			}
		}
		return nil
	}

	sem := semaphore.NewWeighted(int64(uc.cfg.MaxConcurrency))
	errCh := make(chan error, len(b.LineItems))

	for i := range b.LineItems {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(idx int) {
			defer sem.Release(1)
			errCh <- uc.processItem(ctx, b, creds, idx, results)
		}(i)
	}

	// Wait for all workers, then surface the first systemic error.
	if err := sem.Acquire(ctx, int64(uc.cfg.MaxConcurrency)); err != nil {
		return err
	}
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// processItem handles one line-item. Item-scoped failures (validation,
// provider rejection) are recorded in results and return nil; systemic
// failures (lock timeout, store outage) return an error.
func (uc *GenerateBatchUseCase) processItem(ctx context.Context, b *entity.Batch, creds repository.TenantCredentials, idx int, results []entity.InvoiceResult) error {
	item := b.LineItems[idx]
	computed := item.ComputedTotal()

	results[idx] = entity.InvoiceResult{SourceLabel: item.SourceLabel}

	// Defense in depth: the batch may have aged since ingestion validated it.
	if err := uc.guard.ValidateAmount(computed, b.TenantID, item.SourceLabel); err != nil {
		uc.markFailed(&results[idx], b.TenantID, err)
		return nil
	}

	lockKey := "folio:" + b.TenantID
	lockStart := time.Now()

	err := uc.locker.WithLock(ctx, lockKey, uc.cfg.FolioLockTTL, uc.cfg.FolioLockRetries, func(ctx context.Context) error {
		if uc.collector != nil {
			uc.collector.ObserveLockWait(time.Since(lockStart))
		}

		invoice, callErr := uc.provider.CreateInvoice(ctx, creds, repository.InvoiceSpec{
			CustomerID:  b.CustomerID,
			SourceLabel: item.SourceLabel,
			Services:    item.Services,
			Total:       computed,
		})
		if callErr != nil {
			return callErr
		}

		results[idx].Status = entity.InvoiceStatusSuccess
		results[idx].ExternalInvoiceID = invoice.ID
		results[idx].Series = invoice.Series
		results[idx].Folio = invoice.Folio
		results[idx].Total = invoice.Total

		record := &entity.InvoiceRecord{
			TenantID:          b.TenantID,
			BatchID:           b.BatchID,
			SourceLabel:       item.SourceLabel,
			ExternalInvoiceID: invoice.ID,
			Series:            invoice.Series,
			Folio:             invoice.Folio,
			Total:             invoice.Total,
			IssuedAt:          time.Now().UTC(),
		}
		if saveErr := uc.invoiceRepo.Save(ctx, record); saveErr != nil {
			// The invoice exists at the provider; losing the local record
			// is a reconciliation problem, not a generation failure.
			uc.logger.Error("Failed to persist invoice record",
				zap.String("external_invoice_id", invoice.ID),
				zap.Error(saveErr))
		}
		return nil
	})

	if err == nil {
		if uc.collector != nil {
			uc.collector.InvoicesGenerated.WithLabelValues(b.TenantID).Inc()
		}
		return nil
	}

	if common.IsCode(err, common.ErrCodeLockTimeout) || common.IsCode(err, common.ErrCodeStoreUnavailable) {
		if uc.collector != nil && common.IsCode(err, common.ErrCodeLockTimeout) {
			uc.collector.LockTimeouts.Inc()
		}
		return err
	}

	// Provider failure on this item: record it and continue with siblings.
	uc.markFailed(&results[idx], b.TenantID, err)
	return nil
}

func (uc *GenerateBatchUseCase) markFailed(result *entity.InvoiceResult, tenantID string, err error) {
	result.Status = entity.InvoiceStatusFailed
	result.ErrorMessage = err.Error()
	if uc.collector != nil {
		uc.collector.InvoicesFailed.WithLabelValues(tenantID, string(common.CodeOf(err))).Inc()
	}
}

// notify delivers the report to the conversational surface, fire-and-forget
func (uc *GenerateBatchUseCase) notify(ownerID string, report *entity.BatchGenerationReport) {
	if uc.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := uc.sink.NotifyReport(ctx, ownerID, report); err != nil {
		uc.logger.Warn("Report notification failed",
			zap.String("batch_id", report.BatchID),
			zap.Error(err))
	}
}

// Summary renders a one-line human-readable outcome for logs and chat
func Summary(report *entity.BatchGenerationReport) string {
	return fmt.Sprintf("batch %s: %d invoices issued, %d failed",
		report.BatchID, report.SucceededCount, report.FailedCount)
}
