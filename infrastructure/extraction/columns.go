package extraction

import (
	"strings"

	"github.com/facturio/invoicing-engine/domain/entity"
)

// columnMap maps canonical service fields to zero-based column indexes
// discovered from a header row. Insurer spreadsheets arrive in Spanish,
// English or a mix, so each field carries a synonym set.
type columnMap struct {
	id          int
	taxKey      int
	description int
	location    int
	subtotal    int
	vat         int
	withholding int
	total       int
}

var headerSynonyms = map[string][]string{
	"id":          {"id", "folio interno", "no"},
	"taxKey":      {"clave", "clave fiscal", "tax key", "sat"},
	"description": {"descripcion", "descripción", "description", "concepto", "servicio"},
	"location":    {"ubicacion", "ubicación", "location", "sucursal", "plaza"},
	"subtotal":    {"subtotal", "importe", "sub total"},
	"vat":         {"iva", "vat", "impuesto"},
	"withholding": {"retencion", "retención", "withholding", "ret iva", "ret"},
	"total":       {"total", "total factura"},
}

func newColumnMap() columnMap {
	return columnMap{id: -1, taxKey: -1, description: -1, location: -1, subtotal: -1, vat: -1, withholding: -1, total: -1}
}

// usable requires the columns the total computation depends on
func (m columnMap) usable() bool {
	return m.description >= 0 && m.subtotal >= 0
}

// mapHeaderRow attempts to build a column map from one row. Returns false
// when the row does not look like a service table header.
func mapHeaderRow(cells []string) (columnMap, bool) {
	m := newColumnMap()
	matched := 0

	for idx, cell := range cells {
		normalized := strings.ToLower(strings.TrimSpace(cell))
		if normalized == "" {
			continue
		}
		switch {
		case m.id < 0 && matchesAny(normalized, headerSynonyms["id"]):
			m.id = idx
			matched++
		case m.taxKey < 0 && matchesAny(normalized, headerSynonyms["taxKey"]):
			m.taxKey = idx
			matched++
		case m.description < 0 && matchesAny(normalized, headerSynonyms["description"]):
			m.description = idx
			matched++
		case m.location < 0 && matchesAny(normalized, headerSynonyms["location"]):
			m.location = idx
			matched++
		case m.subtotal < 0 && matchesAny(normalized, headerSynonyms["subtotal"]):
			m.subtotal = idx
			matched++
		case m.vat < 0 && matchesAny(normalized, headerSynonyms["vat"]):
			m.vat = idx
			matched++
		case m.withholding < 0 && matchesAny(normalized, headerSynonyms["withholding"]):
			m.withholding = idx
			matched++
		case m.total < 0 && matchesAny(normalized, headerSynonyms["total"]):
			m.total = idx
			matched++
		}
	}

	return m, m.usable() && matched >= 3
}

func matchesAny(cell string, synonyms []string) bool {
	for _, s := range synonyms {
		if cell == s {
			return true
		}
	}
	return false
}

// serviceFromRow builds a service entry from one data row. Returns false
// when the row has no description or no parsable subtotal.
func (m columnMap) serviceFromRow(cells []string) (entity.ServiceEntry, bool) {
	get := func(idx int) string {
		if idx < 0 || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	description := get(m.description)
	if description == "" || isTotalLabel(description) {
		return entity.ServiceEntry{}, false
	}

	subtotal, ok := parseAmount(get(m.subtotal))
	if !ok {
		return entity.ServiceEntry{}, false
	}

	vat, _ := parseAmount(get(m.vat))
	withholding, _ := parseAmount(get(m.withholding))
	total, _ := parseAmount(get(m.total))

	return entity.ServiceEntry{
		ID:                get(m.id),
		TaxKey:            get(m.taxKey),
		Description:       description,
		Location:          get(m.location),
		Subtotal:          subtotal,
		VATAmount:         vat,
		WithholdingAmount: withholding,
		Total:             total,
	}, true
}

// declaredTotalFromRow recognizes a summary row ("TOTAL ...") and returns
// the declared total from the total (or subtotal) column.
func (m columnMap) declaredTotalFromRow(cells []string) (float64, bool) {
	label := ""
	if m.description >= 0 && m.description < len(cells) {
		label = strings.TrimSpace(cells[m.description])
	}
	if label == "" && len(cells) > 0 {
		label = strings.TrimSpace(cells[0])
	}
	if !isTotalLabel(label) {
		return 0, false
	}

	for _, idx := range []int{m.total, m.subtotal} {
		if idx < 0 || idx >= len(cells) {
			continue
		}
		if v, ok := parseAmount(strings.TrimSpace(cells[idx])); ok {
			return v, true
		}
	}
	return 0, false
}

func isTotalLabel(s string) bool {
	normalized := strings.ToLower(strings.TrimSpace(s))
	return normalized == "total" || normalized == "gran total" ||
		strings.HasPrefix(normalized, "total ")
}
