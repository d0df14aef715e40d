package entity

// ServiceEntry represents one billable service row inside a line-item
type ServiceEntry struct {
	ID                string  `json:"id" msgpack:"id"`
	TaxKey            string  `json:"tax_key" msgpack:"tax_key"`
	Description       string  `json:"description" msgpack:"description"`
	Location          string  `json:"location" msgpack:"location"`
	Subtotal          float64 `json:"subtotal" msgpack:"subtotal"`
	VATAmount         float64 `json:"vat_amount" msgpack:"vat_amount"`
	WithholdingAmount float64 `json:"withholding_amount" msgpack:"withholding_amount"`
	Total             float64 `json:"total" msgpack:"total"`
}

// CanonicalLineItem is the provider-agnostic representation of one invoice's
// billable content, independent of the source document format.
type CanonicalLineItem struct {
	// SourceLabel identifies the sheet, tab or page the item came from.
	SourceLabel string         `json:"source_label" msgpack:"source_label"`
	Services    []ServiceEntry `json:"services" msgpack:"services"`

	// DeclaredTotal is the total the source document states, when it states
	// one. Carried for discrepancy detection only, never used for billing.
	DeclaredTotal    float64 `json:"declared_total" msgpack:"declared_total"`
	HasDeclaredTotal bool    `json:"has_declared_total" msgpack:"has_declared_total"`
}

// ComputedTotal derives the billable total from the service entries. It is
// always recomputed and never trusted from input.
func (li *CanonicalLineItem) ComputedTotal() float64 {
	var subtotal, vat, withholding float64
	for _, s := range li.Services {
		subtotal += s.Subtotal
		vat += s.VATAmount
		withholding += s.WithholdingAmount
	}
	return subtotal + vat - withholding
}

// IsEmpty reports whether the item carries no recognizable service records
func (li *CanonicalLineItem) IsEmpty() bool {
	return len(li.Services) == 0
}

// ParsedDocument is the result of extracting one uploaded document
type ParsedDocument struct {
	// Format is the detected source format ("xlsx", "csv", "pdf").
	Format string `json:"format"`

	// LineItems holds one entry per invoice to be produced, in document order.
	LineItems []CanonicalLineItem `json:"line_items"`

	// EmptySections lists sub-sections that contained no recognizable
	// service records. Heterogeneous documents routinely mix data and
	// non-data sections, so these are reported, not treated as errors.
	EmptySections []string `json:"empty_sections,omitempty"`
}
