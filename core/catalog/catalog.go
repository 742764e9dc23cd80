// Package catalog - Print-shop service catalog
// Defines the configuration records the pricing engine reads: services,
// volume tiers, operation norms, material rules and product policies.
// Records are owned by an external store and are read-only here.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TierBasis selects which quantity drives volume tier lookup for a service line
type TierBasis string

const (
	// TierBasisConsumed keys tier lookup off the formula-computed service quantity
	TierBasisConsumed TierBasis = "consumed"
	// TierBasisOrder keys tier lookup off the requested order quantity
	TierBasisOrder TierBasis = "order"
)

// ParseTierBasis parses a tier basis name; empty means consumed
func ParseTierBasis(s string) (TierBasis, error) {
	switch TierBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierBasisConsumed:
		return TierBasisConsumed, nil
	case TierBasisOrder:
		return TierBasisOrder, nil
	default:
		return "", fmt.Errorf("unknown tier basis %q (want %q or %q)", s, TierBasisConsumed, TierBasisOrder)
	}
}

// Service is a billable production service
type Service struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"` // sheet, hour, m2, click, item
	BaseRate  decimal.Decimal `json:"base_rate"`
	Currency  string          `json:"currency"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// VolumeTier is a quantity break for one service
type VolumeTier struct {
	ID          string          `json:"id"`
	ServiceID   string          `json:"service_id"`
	MinQuantity float64         `json:"min_quantity"`
	Rate        decimal.Decimal `json:"rate"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OperationNorm maps a production step of a product type to a service and
// a formula computing how many service units the step consumes
type OperationNorm struct {
	ID          string `json:"id"`
	ProductType string `json:"product_type"`
	Operation   string `json:"operation"`
	ServiceID   string `json:"service_id"`
	Formula     string `json:"formula"`
	IsActive    bool   `json:"is_active"`
}

// SheetSize is a press sheet or finished format in millimetres
type SheetSize struct {
	WidthMM  float64 `json:"width_mm"`
	HeightMM float64 `json:"height_mm"`
}

// Paper is a stocked paper priced per press sheet
type Paper struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Density       int             `json:"density"` // g/m2
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	PricePerSheet decimal.Decimal `json:"price_per_sheet"`
	Currency      string          `json:"currency"`
	IsActive      bool            `json:"is_active"`
}

// DisplayName returns the paper name, or type and density when unnamed
func (p Paper) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("%s %dg/m2", p.Type, p.Density)
}

// MaterialRule describes how a product type consumes one material
type MaterialRule struct {
	ProductType string `json:"product_type"`
	Key         string `json:"key"`
	Name        string `json:"name"`

	// FieldPrefix namespaces the specification fields this rule reads,
	// e.g. "cover" reads coverFormat, coverPaperType, coverPaperDensity.
	FieldPrefix string `json:"field_prefix,omitempty"`

	PressSheet   SheetSize `json:"press_sheet"`
	BleedMM      float64   `json:"bleed_mm"`
	WastePercent float64   `json:"waste_percent"`

	// RequiredFields lists unprefixed specification fields that must be present.
	RequiredFields []string `json:"required_fields"`

	// PiecesPerSheet overrides the computed imposition for a format.
	PiecesPerSheet map[string]int `json:"pieces_per_sheet,omitempty"`

	Papers []Paper `json:"papers"`
}

// Field returns the specification key for an unprefixed field name
func (r MaterialRule) Field(name string) string {
	if r.FieldPrefix == "" {
		return name
	}
	return r.FieldPrefix + strings.ToUpper(name[:1]) + name[1:]
}

// Requires reports whether the unprefixed field is mandatory
func (r MaterialRule) Requires(name string) bool {
	for _, f := range r.RequiredFields {
		if f == name {
			return true
		}
	}
	return false
}

// clone returns a deep copy so snapshots never share mutable state with callers
func (r MaterialRule) clone() MaterialRule {
	out := r
	out.RequiredFields = append([]string(nil), r.RequiredFields...)
	out.Papers = append([]Paper(nil), r.Papers...)
	if r.PiecesPerSheet != nil {
		out.PiecesPerSheet = make(map[string]int, len(r.PiecesPerSheet))
		for k, v := range r.PiecesPerSheet {
			out.PiecesPerSheet[k] = v
		}
	}
	return out
}

// ProductPolicy carries per-product pricing settings
type ProductPolicy struct {
	ProductType string    `json:"product_type"`
	TierBasis   TierBasis `json:"tier_basis"`
}
