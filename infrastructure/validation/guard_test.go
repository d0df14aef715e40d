package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/facturio/invoicing-engine/shared/common"
)

func TestValidateAmount_DefaultCeiling(t *testing.T) {
	guard := NewGuard(100000, nil, 0, zaptest.NewLogger(t))

	assert.NoError(t, guard.ValidateAmount(99999.99, "tenant-1", "Sheet1"))
	assert.NoError(t, guard.ValidateAmount(100000, "tenant-1", "Sheet1"))

	err := guard.ValidateAmount(100000.01, "tenant-1", "Sheet1")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeAmountCeiling))
}

func TestValidateAmount_PerClientOverride(t *testing.T) {
	guard := NewGuard(100000, map[string]float64{"tenant-vip": 5000000}, 0, zaptest.NewLogger(t))

	assert.NoError(t, guard.ValidateAmount(2000000, "tenant-vip", "Sheet1"))

	err := guard.ValidateAmount(2000000, "tenant-regular", "Sheet1")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeAmountCeiling))
}

func TestValidateAmount_NegativeTotal(t *testing.T) {
	guard := NewGuard(100000, nil, 0, zaptest.NewLogger(t))

	err := guard.ValidateAmount(-0.01, "tenant-1", "Sheet1")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeValidationFailed))
}

func TestValidateAmount_ZeroCeilingDisablesCheck(t *testing.T) {
	guard := NewGuard(0, nil, 0, zaptest.NewLogger(t))
	assert.NoError(t, guard.ValidateAmount(999999999, "tenant-1", "Sheet1"))
}

func TestDetectDiscrepancy(t *testing.T) {
	guard := NewGuard(0, nil, 0.01, zaptest.NewLogger(t))

	tests := []struct {
		name     string
		computed float64
		declared float64
		delta    float64
		exceeds  bool
	}{
		{"exact match", 1000.00, 1000.00, 0, false},
		{"within tolerance", 1000.00, 1000.005, 0.005, false},
		{"flagged mismatch", 500.00, 450.00, 50.00, true},
		{"declared above computed", 450.00, 500.00, 50.00, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := guard.DetectDiscrepancy(tt.computed, tt.declared)
			assert.InDelta(t, tt.delta, report.Delta, 0.0001)
			assert.Equal(t, tt.exceeds, report.Exceeds)
			assert.Equal(t, tt.computed, report.ComputedTotal)
			assert.Equal(t, tt.declared, report.DeclaredTotal)
		})
	}
}
