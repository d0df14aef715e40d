package repository

import (
	"context"

	"github.com/facturio/invoicing-engine/domain/entity"
)

// TenantCredentials authenticate a tenant against the external invoicing
// provider.
type TenantCredentials struct {
	TenantID string
	APIKey   string
}

// InvoiceSpec is the provider-facing description of one invoice to create.
// The provider assigns series and folio server-side.
type InvoiceSpec struct {
	CustomerID  string
	SourceLabel string
	Services    []entity.ServiceEntry
	Total       float64
}

// ProviderInvoice is the provider's record of a created invoice
type ProviderInvoice struct {
	ID     string
	Series string
	Folio  int64
	Total  float64
}

// ArtifactKind selects the representation of a downloaded invoice artifact
type ArtifactKind string

const (
	ArtifactKindPDF ArtifactKind = "pdf"
	ArtifactKindXML ArtifactKind = "xml"
)

// ProviderClient is the external invoicing provider. Transient failures are
// retried inside the client with bounded attempts; an exhausted retry
// surfaces as a single ErrCodeProvider error.
type ProviderClient interface {
	CreateInvoice(ctx context.Context, creds TenantCredentials, spec InvoiceSpec) (*ProviderInvoice, error)
	DownloadArtifact(ctx context.Context, creds TenantCredentials, invoiceID string, kind ArtifactKind) ([]byte, error)
}

// SubscriptionGate decides whether a tenant may generate invoices at all.
// Consulted once per request, before any provider call.
type SubscriptionGate interface {
	IsGenerationAllowed(ctx context.Context, tenantID string) (allowed bool, reason string, err error)
}

// NotificationSink receives generation reports, artifacts and errors bound
// for the requesting conversational surface. Delivery is fire-and-forget;
// sink failures never affect the generation path.
type NotificationSink interface {
	NotifyReport(ctx context.Context, ownerID string, report *entity.BatchGenerationReport) error
	NotifyError(ctx context.Context, ownerID string, message string) error
	NotifyArtifact(ctx context.Context, ownerID string, name string, artifactPath string) error
}
