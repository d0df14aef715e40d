package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTrailingAmounts(t *testing.T) {
	amounts, description := trailingAmounts("Consulta general 1,000.00 160.00 1,160.00")
	assert.Equal(t, "Consulta general", description)
	require.Len(t, amounts, 3)
	assert.InDelta(t, 1000.0, amounts[0], 0.001)
	assert.InDelta(t, 160.0, amounts[1], 0.001)
	assert.InDelta(t, 1160.0, amounts[2], 0.001)

	amounts, description = trailingAmounts("Sin importes en esta linea")
	assert.Empty(t, amounts)
	assert.Equal(t, "Sin importes en esta linea", description)
}

func TestServiceFromTextLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		ok          bool
		subtotal    float64
		vat         float64
		withholding float64
		total       float64
	}{
		{"subtotal and total", "Ambulancia 500.00 580.00", true, 500, 0, 0, 580},
		{"with vat", "Consulta general 1000.00 160.00 1160.00", true, 1000, 160, 0, 1160},
		{"with withholding", "Honorarios medicos 5000.00 800.00 500.00 5300.00", true, 5000, 800, 500, 5300},
		{"single amount", "Folio 12345.00", false, 0, 0, 0, 0},
		{"no description", "100.00 116.00", false, 0, 0, 0, 0},
		{"no amounts", "Observaciones del ajustador", false, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, ok := serviceFromTextLine(tt.line)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.InDelta(t, tt.subtotal, service.Subtotal, 0.001)
			assert.InDelta(t, tt.vat, service.VATAmount, 0.001)
			assert.InDelta(t, tt.withholding, service.WithholdingAmount, 0.001)
			assert.InDelta(t, tt.total, service.Total, 0.001)
		})
	}
}

func TestPDFParser_ParsePage(t *testing.T) {
	parser := NewPDFParser(zaptest.NewLogger(t))

	text := `Estado de cuenta - Proveedor Medico SA

Consulta general 1000.00 160.00 1160.00
Ambulancia 500.00 580.00

TOTAL 1,740.00
`
	item, ok := parser.parsePage("page 1", text)
	require.True(t, ok)
	assert.Equal(t, "page 1", item.SourceLabel)
	require.Len(t, item.Services, 2)
	assert.True(t, item.HasDeclaredTotal)
	assert.InDelta(t, 1740.0, item.DeclaredTotal, 0.001)
	assert.InDelta(t, 1660.0, item.ComputedTotal(), 0.001)
}

func TestPDFParser_ParsePageEmpty(t *testing.T) {
	parser := NewPDFParser(zaptest.NewLogger(t))

	_, ok := parser.parsePage("page 2", "Anexo fotografico\nSin servicios en esta pagina\n")
	assert.False(t, ok, "pages without service rows are empty sections")
}
