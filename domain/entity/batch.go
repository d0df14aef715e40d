package entity

import (
	"time"

	"github.com/google/uuid"
)

// Batch is a unit of work awaiting or undergoing invoice generation. It is
// exclusively owned by the originating user until confirmed and is deleted
// after generation or TTL expiry, whichever comes first.
type Batch struct {
	BatchID    string              `json:"batch_id" msgpack:"batch_id"`
	OwnerID    string              `json:"owner_id" msgpack:"owner_id"`
	TenantID   string              `json:"tenant_id" msgpack:"tenant_id"`
	CustomerID string              `json:"customer_id" msgpack:"customer_id"`
	LineItems  []CanonicalLineItem `json:"line_items" msgpack:"line_items"`
	CreatedAt  time.Time           `json:"created_at" msgpack:"created_at"`
	ExpiresAt  time.Time           `json:"expires_at" msgpack:"expires_at"`
}

// NewBatch creates a batch with a collision-resistant opaque id
func NewBatch(ownerID, tenantID, customerID string, items []CanonicalLineItem, ttl time.Duration) *Batch {
	now := time.Now().UTC()
	return &Batch{
		BatchID:    uuid.New().String(),
		OwnerID:    ownerID,
		TenantID:   tenantID,
		CustomerID: customerID,
		LineItems:  items,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// InvoiceStatus classifies a per-item generation outcome
type InvoiceStatus string

const (
	InvoiceStatusSuccess InvoiceStatus = "success"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

// InvoiceResult is the per-line-item outcome of a generation run. A batch is
// never "succeeded" or "failed" atomically; outcomes are per item.
type InvoiceResult struct {
	SourceLabel string        `json:"source_label"`
	Status      InvoiceStatus `json:"status"`

	// Populated on success
	ExternalInvoiceID string  `json:"external_invoice_id,omitempty"`
	Series            string  `json:"series,omitempty"`
	Folio             int64   `json:"folio,omitempty"`
	Total             float64 `json:"total,omitempty"`

	// Populated on failure
	ErrorMessage string `json:"error_message,omitempty"`
}

// BatchGenerationReport aggregates every item's outcome for one batch
type BatchGenerationReport struct {
	BatchID        string          `json:"batch_id"`
	TenantID       string          `json:"tenant_id"`
	Results        []InvoiceResult `json:"results"`
	SucceededCount int             `json:"succeeded_count"`
	FailedCount    int             `json:"failed_count"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// InvoiceRecord is the durable record of an externally registered invoice,
// persisted for later reconciliation against the provider.
type InvoiceRecord struct {
	ID                int64     `db:"id" json:"id"`
	TenantID          string    `db:"tenant_id" json:"tenant_id"`
	BatchID           string    `db:"batch_id" json:"batch_id"`
	SourceLabel       string    `db:"source_label" json:"source_label"`
	ExternalInvoiceID string    `db:"external_invoice_id" json:"external_invoice_id"`
	Series            string    `db:"series" json:"series"`
	Folio             int64     `db:"folio" json:"folio"`
	Total             float64   `db:"total" json:"total"`
	IssuedAt          time.Time `db:"issued_at" json:"issued_at"`
}
