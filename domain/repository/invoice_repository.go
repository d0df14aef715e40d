package repository

import (
	"context"
	"time"

	"github.com/facturio/invoicing-engine/domain/entity"
)

// InvoiceRecordRepository persists externally registered invoices for later
// reconciliation against the provider.
type InvoiceRecordRepository interface {
	Save(ctx context.Context, record *entity.InvoiceRecord) error
	ListByTenant(ctx context.Context, tenantID string, since time.Time, limit int) ([]*entity.InvoiceRecord, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*entity.InvoiceRecord, error)
}
