// Package validation holds the amount circuit breaker and the discrepancy
// detector that sit between extraction and generation.
package validation

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/shared/common"
)

// DefaultDiscrepancyTolerance is the absolute delta between declared and
// computed totals below which the two are considered equal.
const DefaultDiscrepancyTolerance = 0.01

// Guard rejects absurd computed totals and flags declared-vs-computed
// mismatches. The ceiling check is a circuit breaker against malformed
// input, not a business-rule validator; the discrepancy check never blocks.
type Guard struct {
	defaultCeiling float64
	clientCeilings map[string]float64
	tolerance      float64
	logger         *zap.Logger
}

// DiscrepancyReport describes a declared-vs-computed total comparison
type DiscrepancyReport struct {
	ComputedTotal float64 `json:"computed_total"`
	DeclaredTotal float64 `json:"declared_total"`
	Delta         float64 `json:"delta"`
	Exceeds       bool    `json:"exceeds"`
}

// NewGuard creates a validation guard
func NewGuard(defaultCeiling float64, clientCeilings map[string]float64, tolerance float64, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tolerance <= 0 {
		tolerance = DefaultDiscrepancyTolerance
	}

	return &Guard{
		defaultCeiling: defaultCeiling,
		clientCeilings: clientCeilings,
		tolerance:      tolerance,
		logger:         logger,
	}
}

// ValidateAmount hard-rejects totals above the client's sanity ceiling
func (g *Guard) ValidateAmount(computedTotal float64, clientLabel, contextLabel string) error {
	if computedTotal < 0 {
		return common.NewAppErrorWithDetails(common.ErrCodeValidationFailed,
			"computed total is negative",
			fmt.Sprintf("%s: %.2f", contextLabel, computedTotal))
	}

	ceiling := g.defaultCeiling
	if override, ok := g.clientCeilings[clientLabel]; ok {
		ceiling = override
	}

	if ceiling > 0 && computedTotal > ceiling {
		g.logger.Warn("Amount ceiling exceeded",
			zap.String("client", clientLabel),
			zap.String("context", contextLabel),
			zap.Float64("computed_total", computedTotal),
			zap.Float64("ceiling", ceiling))
		return common.NewAppErrorWithDetails(common.ErrCodeAmountCeiling,
			"computed total exceeds sanity ceiling",
			fmt.Sprintf("%s: %.2f > %.2f", contextLabel, computedTotal, ceiling)).
			WithContext("client", clientLabel)
	}

	return nil
}

// DetectDiscrepancy compares the computed total against the document's
// declared total. A delta beyond tolerance is surfaced for human review but
// does not block generation: the engine bills from computed totals.
func (g *Guard) DetectDiscrepancy(computedTotal, declaredTotal float64) DiscrepancyReport {
	delta := math.Abs(computedTotal - declaredTotal)
	report := DiscrepancyReport{
		ComputedTotal: computedTotal,
		DeclaredTotal: declaredTotal,
		Delta:         delta,
		Exceeds:       delta > g.tolerance,
	}

	if report.Exceeds {
		g.logger.Info("Total discrepancy detected",
			zap.Float64("computed", computedTotal),
			zap.Float64("declared", declaredTotal),
			zap.Float64("delta", delta))
	}

	return report
}
