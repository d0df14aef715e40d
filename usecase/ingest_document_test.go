package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/infrastructure/extraction"
	"github.com/facturio/invoicing-engine/infrastructure/validation"
	"github.com/facturio/invoicing-engine/shared/common"
)

// fakeBatchStore is an in-memory repository.BatchStore for use case tests
type fakeBatchStore struct {
	mu      sync.Mutex
	batches map[string]*entity.Batch

	saveErr error
	loadErr error
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{batches: make(map[string]*entity.Batch)}
}

func (s *fakeBatchStore) storeKey(ownerID, batchID string) string {
	return fmt.Sprintf("%s:%s", ownerID, batchID)
}

func (s *fakeBatchStore) Save(_ context.Context, ownerID, batchID string, b *entity.Batch, _ time.Duration) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[s.storeKey(ownerID, batchID)] = b
	return nil
}

func (s *fakeBatchStore) Load(_ context.Context, ownerID, batchID string) (*entity.Batch, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[s.storeKey(ownerID, batchID)]
	if !ok {
		return nil, common.NewAppError(common.ErrCodeNotFound, "batch not found")
	}
	return b, nil
}

func (s *fakeBatchStore) Delete(_ context.Context, ownerID, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, s.storeKey(ownerID, batchID))
	return nil
}

func (s *fakeBatchStore) contains(ownerID, batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[s.storeKey(ownerID, batchID)]
	return ok
}

func buildWorkbook(t *testing.T, sheets []string, rows map[string][][]interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName(f.GetSheetName(0), name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for j, row := range rows[name] {
			cell, err := excelize.CoordinatesToCellName(1, j+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func newIngestUseCase(t *testing.T, store *fakeBatchStore, ceiling float64) *IngestDocumentUseCase {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := extraction.NewRegistry(
		extraction.NewXLSXParser(logger),
		extraction.NewCSVParser(logger),
	)
	guard := validation.NewGuard(ceiling, nil, 0.01, logger)
	return NewIngestDocumentUseCase(registry, guard, store, 15*time.Minute, 32<<20, nil, logger)
}

func TestIngestDocument_DiscrepancyFlaggedButNotBlocking(t *testing.T) {
	raw := buildWorkbook(t,
		[]string{"Siniestro A", "Siniestro B"},
		map[string][][]interface{}{
			"Siniestro A": {
				{"Descripcion", "Subtotal", "IVA", "Total"},
				{"Consulta general", 1000.00, 0.00, 1000.00},
				{"TOTAL", "", "", 1000.00},
			},
			"Siniestro B": {
				{"Descripcion", "Subtotal", "IVA", "Total"},
				{"Ambulancia", 500.00, 0.00, 500.00},
				{"TOTAL", "", "", 450.00},
			},
		})

	store := newFakeBatchStore()
	uc := newIngestUseCase(t, store, 0)

	resp, err := uc.Execute(context.Background(), &IngestDocumentRequest{
		OwnerID:    "user-1",
		TenantID:   "tenant-1",
		CustomerID: "customer-1",
		RawBytes:   raw,
	})
	require.NoError(t, err)
	require.Len(t, resp.Sections, 2)
	assert.True(t, store.contains("user-1", resp.BatchID))

	byLabel := map[string]SectionSummary{}
	for _, s := range resp.Sections {
		byLabel[s.SourceLabel] = s
	}

	matching := byLabel["Siniestro A"]
	assert.InDelta(t, 1000.0, matching.ComputedTotal, 0.001)
	assert.Nil(t, matching.Discrepancy, "matching totals carry no discrepancy flag")

	mismatched := byLabel["Siniestro B"]
	assert.InDelta(t, 500.0, mismatched.ComputedTotal, 0.001)
	require.NotNil(t, mismatched.Discrepancy)
	assert.InDelta(t, 50.0, mismatched.Discrepancy.Delta, 0.001)

	// Both sections proceed: the discrepancy informs, never blocks.
	assert.Empty(t, resp.RejectedSections)
}

func TestIngestDocument_CeilingRejectsSectionOnly(t *testing.T) {
	raw := buildWorkbook(t,
		[]string{"Normal", "Absurdo"},
		map[string][][]interface{}{
			"Normal": {
				{"Descripcion", "Subtotal", "IVA", "Total"},
				{"Consulta general", 1000.00, 0.00, 1000.00},
			},
			"Absurdo": {
				{"Descripcion", "Subtotal", "IVA", "Total"},
				{"Error de captura", 99999999.00, 0.00, 99999999.00},
			},
		})

	store := newFakeBatchStore()
	uc := newIngestUseCase(t, store, 100000)

	resp, err := uc.Execute(context.Background(), &IngestDocumentRequest{
		OwnerID:  "user-1",
		TenantID: "tenant-1",
		RawBytes: raw,
	})
	require.NoError(t, err)

	require.Len(t, resp.Sections, 1)
	assert.Equal(t, "Normal", resp.Sections[0].SourceLabel)

	require.Len(t, resp.RejectedSections, 1)
	assert.Equal(t, "Absurdo", resp.RejectedSections[0].SourceLabel)

	// The persisted batch holds only the accepted section.
	saved, err := store.Load(context.Background(), "user-1", resp.BatchID)
	require.NoError(t, err)
	require.Len(t, saved.LineItems, 1)
	assert.Equal(t, "Normal", saved.LineItems[0].SourceLabel)
}

func TestIngestDocument_AllSectionsRejected(t *testing.T) {
	raw := []byte("Descripcion,Subtotal,IVA\nError de captura,99999999.00,0.00\n")

	store := newFakeBatchStore()
	uc := newIngestUseCase(t, store, 100000)

	_, err := uc.Execute(context.Background(), &IngestDocumentRequest{
		OwnerID:  "user-1",
		TenantID: "tenant-1",
		RawBytes: raw,
	})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeParse))
}

func TestIngestDocument_EmptyDocument(t *testing.T) {
	uc := newIngestUseCase(t, newFakeBatchStore(), 0)

	_, err := uc.Execute(context.Background(), &IngestDocumentRequest{
		OwnerID:  "user-1",
		TenantID: "tenant-1",
	})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeInvalidInput))
}

func TestIngestDocument_SizeLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := extraction.NewRegistry(extraction.NewCSVParser(logger))
	guard := validation.NewGuard(0, nil, 0.01, logger)
	uc := NewIngestDocumentUseCase(registry, guard, newFakeBatchStore(), time.Minute, 16, nil, logger)

	_, err := uc.Execute(context.Background(), &IngestDocumentRequest{
		OwnerID:  "user-1",
		TenantID: "tenant-1",
		RawBytes: []byte("descripcion,subtotal\nfoo,100\nbar,200\n"),
	})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeInvalidInput))
}
