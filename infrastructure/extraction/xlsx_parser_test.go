package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"
)

// buildWorkbook assembles an in-memory workbook: sheet name -> rows.
func buildWorkbook(t *testing.T, sheets map[string][][]interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName(f.GetSheetName(0), name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestXLSXParser_OneLineItemPerSheet(t *testing.T) {
	raw := buildWorkbook(t, map[string][][]interface{}{
		"Siniestro A": {
			{"Clave", "Descripcion", "Subtotal", "IVA", "Total"},
			{"85121600", "Consulta general", 1000.00, 160.00, 1160.00},
			{"", "TOTAL", "", "", 1160.00},
		},
		"Siniestro B": {
			{"Descripcion", "Subtotal", "IVA", "Total"},
			{"Honorarios medicos", 500.00, 80.00, 580.00},
		},
	})

	parser := NewXLSXParser(zaptest.NewLogger(t))
	doc, err := parser.Parse(context.Background(), raw)
	require.NoError(t, err)

	require.Len(t, doc.LineItems, 2)
	assert.Empty(t, doc.EmptySections)

	byLabel := map[string]int{}
	for i, item := range doc.LineItems {
		byLabel[item.SourceLabel] = i
	}
	require.Contains(t, byLabel, "Siniestro A")
	require.Contains(t, byLabel, "Siniestro B")

	a := doc.LineItems[byLabel["Siniestro A"]]
	require.Len(t, a.Services, 1)
	assert.InDelta(t, 1160.0, a.ComputedTotal(), 0.001)
	assert.True(t, a.HasDeclaredTotal)
	assert.InDelta(t, 1160.0, a.DeclaredTotal, 0.001)

	b := doc.LineItems[byLabel["Siniestro B"]]
	require.Len(t, b.Services, 1)
	assert.InDelta(t, 580.0, b.ComputedTotal(), 0.001)
}

func TestXLSXParser_MixedSheets(t *testing.T) {
	raw := buildWorkbook(t, map[string][][]interface{}{
		"Portada": {
			{"Estado de cuenta"},
			{"Agosto 2026"},
		},
		"Servicios": {
			{"Descripcion", "Subtotal", "IVA", "Total"},
			{"Consulta general", 1000.00, 160.00, 1160.00},
		},
	})

	parser := NewXLSXParser(zaptest.NewLogger(t))
	doc, err := parser.Parse(context.Background(), raw)
	require.NoError(t, err)

	require.Len(t, doc.LineItems, 1)
	assert.Equal(t, "Servicios", doc.LineItems[0].SourceLabel)
	assert.Equal(t, []string{"Portada"}, doc.EmptySections,
		"cover sheets are reported empty, never fail the document")
}

func TestXLSXParser_MalformedBytes(t *testing.T) {
	parser := NewXLSXParser(zaptest.NewLogger(t))

	_, err := parser.Parse(context.Background(), []byte("PK\x03\x04not-a-real-archive"))
	require.Error(t, err)
}
