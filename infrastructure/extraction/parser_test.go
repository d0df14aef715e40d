package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/facturio/invoicing-engine/shared/common"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want Format
	}{
		{"xlsx zip signature", []byte("PK\x03\x04rest-of-archive"), FormatXLSX},
		{"pdf signature", []byte("%PDF-1.7\n..."), FormatPDF},
		{"csv header line", []byte("descripcion,subtotal,iva,total\nfoo,1,2,3\n"), FormatCSV},
		{"plain prose", []byte("this is just text without separators\n"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.raw))
		})
	}
}

func TestRegistry_HintBeforeSniffing(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := NewRegistry(NewXLSXParser(logger), NewCSVParser(logger))

	raw := []byte("descripcion,subtotal\nfoo,100\n")

	parser, err := registry.ParserFor(raw, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, parser.Format())

	// Without a hint, content sniffing selects the same parser.
	parser, err = registry.ParserFor(raw, "")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, parser.Format())
}

func TestRegistry_UnknownFormat(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := NewRegistry(NewXLSXParser(logger), NewCSVParser(logger))

	_, err := registry.Parse(context.Background(), []byte("no structure here"), "")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeUnsupportedFormat))
}
