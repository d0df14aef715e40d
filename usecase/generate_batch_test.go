package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/infrastructure/cache"
	"github.com/facturio/invoicing-engine/infrastructure/locking"
	"github.com/facturio/invoicing-engine/infrastructure/validation"
	"github.com/facturio/invoicing-engine/shared/common"
)

// fakeProvider issues invoices with incrementing folios and fails the
// configured source labels.
type fakeProvider struct {
	mu         sync.Mutex
	folio      int64
	failLabels map[string]error
	calls      int32
	concurrent int32
	maxSeen    int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{failLabels: make(map[string]error)}
}

func (p *fakeProvider) CreateInvoice(_ context.Context, _ repository.TenantCredentials, spec repository.InvoiceSpec) (*repository.ProviderInvoice, error) {
	now := atomic.AddInt32(&p.concurrent, 1)
	defer atomic.AddInt32(&p.concurrent, -1)
	for {
		max := atomic.LoadInt32(&p.maxSeen)
		if now <= max || atomic.CompareAndSwapInt32(&p.maxSeen, max, now) {
			break
		}
	}
	atomic.AddInt32(&p.calls, 1)

	if err, ok := p.failLabels[spec.SourceLabel]; ok {
		return nil, err
	}

	p.mu.Lock()
	p.folio++
	folio := p.folio
	p.mu.Unlock()

	return &repository.ProviderInvoice{
		ID:     spec.SourceLabel + "-inv",
		Series: "A",
		Folio:  folio,
		Total:  spec.Total,
	}, nil
}

func (p *fakeProvider) DownloadArtifact(context.Context, repository.TenantCredentials, string, repository.ArtifactKind) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

type fakeInvoiceRepo struct {
	mu      sync.Mutex
	records []*entity.InvoiceRecord
}

func (r *fakeInvoiceRepo) Save(_ context.Context, record *entity.InvoiceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *fakeInvoiceRepo) ListByTenant(context.Context, string, time.Time, int) ([]*entity.InvoiceRecord, error) {
	return nil, nil
}

func (r *fakeInvoiceRepo) GetByExternalID(context.Context, string, string) (*entity.InvoiceRecord, error) {
	return nil, common.NewAppError(common.ErrCodeNotFound, "not found")
}

type fakeGate struct {
	allowed bool
	reason  string
	calls   int32
}

func (g *fakeGate) IsGenerationAllowed(context.Context, string) (bool, string, error) {
	atomic.AddInt32(&g.calls, 1)
	return g.allowed, g.reason, nil
}

type generateFixture struct {
	store    *fakeBatchStore
	provider *fakeProvider
	repo     *fakeInvoiceRepo
	gate     *fakeGate
	uc       *GenerateBatchUseCase
}

func newGenerateFixture(t *testing.T, cfg GenerateBatchConfig) *generateFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	kv := cache.NewMemoryStore(time.Second, logger)
	t.Cleanup(func() { kv.Close() })
	locker := locking.NewService(kv, time.Millisecond, 10*time.Millisecond, logger)

	f := &generateFixture{
		store:    newFakeBatchStore(),
		provider: newFakeProvider(),
		repo:     &fakeInvoiceRepo{},
		gate:     &fakeGate{allowed: true},
	}
	f.uc = NewGenerateBatchUseCase(
		f.store,
		validation.NewGuard(100000, nil, 0.01, logger),
		locker,
		f.provider,
		f.repo,
		f.gate,
		nil,
		cfg,
		nil,
		logger,
	)
	return f
}

func seedBatch(t *testing.T, store *fakeBatchStore, labels ...string) *entity.Batch {
	t.Helper()

	items := make([]entity.CanonicalLineItem, 0, len(labels))
	for _, label := range labels {
		items = append(items, entity.CanonicalLineItem{
			SourceLabel: label,
			Services: []entity.ServiceEntry{
				{Description: "Consulta general", Subtotal: 1000, VATAmount: 160},
			},
		})
	}

	b := entity.NewBatch("user-1", "tenant-1", "customer-1", items, 15*time.Minute)
	require.NoError(t, store.Save(context.Background(), b.OwnerID, b.BatchID, b, 15*time.Minute))
	return b
}

func generateRequest(b *entity.Batch) *GenerateBatchRequest {
	return &GenerateBatchRequest{
		OwnerID: b.OwnerID,
		BatchID: b.BatchID,
		Credentials: repository.TenantCredentials{
			TenantID: b.TenantID,
			APIKey:   "key-123",
		},
	}
}

func TestGenerateBatch_AllItemsSucceed(t *testing.T) {
	f := newGenerateFixture(t, GenerateBatchConfig{})
	b := seedBatch(t, f.store, "Sheet1", "Sheet2", "Sheet3")

	report, err := f.uc.Execute(context.Background(), generateRequest(b))
	require.NoError(t, err)

	assert.Equal(t, 3, report.SucceededCount)
	assert.Equal(t, 0, report.FailedCount)
	require.Len(t, report.Results, 3)
	for i, result := range report.Results {
		assert.Equal(t, entity.InvoiceStatusSuccess, result.Status, "item %d", i)
		assert.NotEmpty(t, result.ExternalInvoiceID)
	}

	// Document order is preserved regardless of completion order.
	assert.Equal(t, "Sheet1", report.Results[0].SourceLabel)
	assert.Equal(t, "Sheet2", report.Results[1].SourceLabel)
	assert.Equal(t, "Sheet3", report.Results[2].SourceLabel)

	assert.Len(t, f.repo.records, 3)
	assert.False(t, f.store.contains(b.OwnerID, b.BatchID), "a finished batch is consumed")
}

func TestGenerateBatch_PartialFailureIsolation(t *testing.T) {
	f := newGenerateFixture(t, GenerateBatchConfig{})
	b := seedBatch(t, f.store, "Sheet1", "Sheet2", "Sheet3", "Sheet4", "Sheet5")
	f.provider.failLabels["Sheet3"] = common.NewAppError(common.ErrCodeProvider, "invalid tax key")

	report, err := f.uc.Execute(context.Background(), generateRequest(b))
	require.NoError(t, err)

	assert.Equal(t, 4, report.SucceededCount)
	assert.Equal(t, 1, report.FailedCount)
	require.Len(t, report.Results, 5)

	assert.Equal(t, entity.InvoiceStatusFailed, report.Results[2].Status)
	assert.Contains(t, report.Results[2].ErrorMessage, "invalid tax key")
	for _, i := range []int{0, 1, 3, 4} {
		assert.Equal(t, entity.InvoiceStatusSuccess, report.Results[i].Status, "sibling %d must not be aborted", i)
	}

	// Consumed even with per-item failures: retry means re-submission.
	assert.False(t, f.store.contains(b.OwnerID, b.BatchID))
}

func TestGenerateBatch_SubscriptionGateBlocksBeforeProvider(t *testing.T) {
	f := newGenerateFixture(t, GenerateBatchConfig{})
	b := seedBatch(t, f.store, "Sheet1")
	f.gate.allowed = false
	f.gate.reason = "subscription expired"

	_, err := f.uc.Execute(context.Background(), generateRequest(b))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeSubscriptionBlocked))

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.provider.calls), "no provider call for a blocked tenant")
	assert.True(t, f.store.contains(b.OwnerID, b.BatchID), "a blocked batch is not consumed")
}

func TestGenerateBatch_UnknownBatch(t *testing.T) {
	f := newGenerateFixture(t, GenerateBatchConfig{})

	_, err := f.uc.Execute(context.Background(), &GenerateBatchRequest{
		OwnerID: "user-1",
		BatchID: "missing",
		Credentials: repository.TenantCredentials{
			TenantID: "tenant-1",
		},
	})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeNotFound))
}

func TestGenerateBatch_LockTimeoutIsSystemic(t *testing.T) {
	logger := zaptest.NewLogger(t)
	kv := cache.NewMemoryStore(time.Second, logger)
	t.Cleanup(func() { kv.Close() })
	locker := locking.NewService(kv, time.Millisecond, 5*time.Millisecond, logger)

	f := newGenerateFixture(t, GenerateBatchConfig{FolioLockRetries: 1})
	f.uc.locker = locker
	b := seedBatch(t, f.store, "Sheet1", "Sheet2")

	// An unrelated holder pins the tenant's folio lock for the whole test.
	handle, err := locker.Acquire(context.Background(), "folio:"+b.TenantID, time.Minute)
	require.NoError(t, err)
	defer locker.Release(context.Background(), handle)

	_, err = f.uc.Execute(context.Background(), generateRequest(b))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeLockTimeout))

	// The batch survives for re-submission within its TTL.
	assert.True(t, f.store.contains(b.OwnerID, b.BatchID))
}

func TestGenerateBatch_ParallelItemsStaySerializedPerTenant(t *testing.T) {
	f := newGenerateFixture(t, GenerateBatchConfig{MaxConcurrency: 3, FolioLockRetries: 100})
	b := seedBatch(t, f.store, "S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8")

	report, err := f.uc.Execute(context.Background(), generateRequest(b))
	require.NoError(t, err)

	assert.Equal(t, 8, report.SucceededCount)
	require.Len(t, report.Results, 8)
	for i, result := range report.Results {
		assert.Equal(t, "S"+string(rune('1'+i)), result.SourceLabel, "results keep document order")
	}

	// Parallel workers still funnel through the tenant's folio lock, so the
	// provider never sees overlapping calls for one tenant.
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.provider.maxSeen))
}

func TestSummary(t *testing.T) {
	report := &entity.BatchGenerationReport{BatchID: "b-1", SucceededCount: 4, FailedCount: 1}
	assert.Equal(t, "batch b-1: 4 invoices issued, 1 failed", Summary(report))
}
