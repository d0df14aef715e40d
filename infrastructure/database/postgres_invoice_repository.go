// Package database persists externally registered invoices for
// reconciliation against the provider.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// PostgresInvoiceRepository implements repository.InvoiceRecordRepository
type PostgresInvoiceRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresInvoiceRepository connects to PostgreSQL and verifies the
// connection.
func NewPostgresInvoiceRepository(cfg common.PostgreSQLConfig, logger *zap.Logger) (*PostgresInvoiceRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInvalidInput, "invalid postgresql configuration")
	}

	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "failed to connect to postgresql")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("PostgreSQL invoice repository initialized",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresInvoiceRepository{db: db, logger: logger}, nil
}

// NewPostgresInvoiceRepositoryWithDB wraps an existing connection, used by tests
func NewPostgresInvoiceRepositoryWithDB(db *sqlx.DB, logger *zap.Logger) *PostgresInvoiceRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresInvoiceRepository{db: db, logger: logger}
}

// Save inserts one issued-invoice record
func (r *PostgresInvoiceRepository) Save(ctx context.Context, record *entity.InvoiceRecord) error {
	const query = `
		INSERT INTO invoice_records (
			tenant_id, batch_id, source_label, external_invoice_id,
			series, folio, total, issued_at
		) VALUES (
			:tenant_id, :batch_id, :source_label, :external_invoice_id,
			:series, :folio, :total, :issued_at
		)`

	if record.IssuedAt.IsZero() {
		record.IssuedAt = time.Now().UTC()
	}

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return common.WrapError(err, common.ErrCodeServiceUnavailable, "failed to persist invoice record")
	}
	return nil
}

// ListByTenant returns records issued for a tenant since a point in time
func (r *PostgresInvoiceRepository) ListByTenant(ctx context.Context, tenantID string, since time.Time, limit int) ([]*entity.InvoiceRecord, error) {
	const query = `
		SELECT id, tenant_id, batch_id, source_label, external_invoice_id,
		       series, folio, total, issued_at
		FROM invoice_records
		WHERE tenant_id = $1 AND issued_at >= $2
		ORDER BY issued_at DESC
		LIMIT $3`

	if limit <= 0 {
		limit = 100
	}

	var records []*entity.InvoiceRecord
	if err := r.db.SelectContext(ctx, &records, query, tenantID, since, limit); err != nil {
		return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "failed to list invoice records")
	}
	return records, nil
}

// GetByExternalID looks up a record by the provider's invoice id
func (r *PostgresInvoiceRepository) GetByExternalID(ctx context.Context, tenantID, externalID string) (*entity.InvoiceRecord, error) {
	const query = `
		SELECT id, tenant_id, batch_id, source_label, external_invoice_id,
		       series, folio, total, issued_at
		FROM invoice_records
		WHERE tenant_id = $1 AND external_invoice_id = $2`

	var record entity.InvoiceRecord
	err := r.db.GetContext(ctx, &record, query, tenantID, externalID)
	if err == sql.ErrNoRows {
		return nil, common.NewAppError(common.ErrCodeNotFound, "invoice record not found").
			WithContext("external_invoice_id", externalID)
	}
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "failed to load invoice record")
	}
	return &record, nil
}

// Close closes the database connection
func (r *PostgresInvoiceRepository) Close() error {
	return r.db.Close()
}
