// Package api - API types for price calculation
// These types define the contract for the /api/v1 endpoints.
// The API is stateless: every request reads the catalog as it is now.
package api

import (
	"github.com/shopspring/decimal"

	"printshop/core/catalog"
	"printshop/core/engine"
)

// CalculateRequest is the input to POST /api/v1/calculate
type CalculateRequest struct {
	ProductType  string  `json:"product_type" validate:"required,max=64"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	Channel      string  `json:"channel,omitempty" validate:"omitempty,max=32"`
	CustomerType string  `json:"customer_type,omitempty" validate:"omitempty,max=32"`

	// Specifications are product parameters such as format, sides or
	// paperType. Numeric values also become formula variables.
	Specifications map[string]any `json:"specifications,omitempty"`
}

func (r CalculateRequest) toEngine() engine.CalculateRequest {
	return engine.CalculateRequest{
		ProductType:    r.ProductType,
		Quantity:       r.Quantity,
		Channel:        r.Channel,
		CustomerType:   r.CustomerType,
		Specifications: r.Specifications,
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Context map[string]any    `json:"context,omitempty"`
}

// ServiceView is a service with its active volume tiers
type ServiceView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	BaseRate decimal.Decimal `json:"base_rate"`
	Currency string          `json:"currency"`
	Tiers    []TierView      `json:"tiers"`
}

// TierView is one volume tier
type TierView struct {
	ID          string          `json:"id"`
	MinQuantity float64         `json:"min_quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

// ServicesResponse is the output of GET /api/v1/services
type ServicesResponse struct {
	Services []ServiceView `json:"services"`
	Count    int           `json:"count"`
}

// ProductResponse is the output of GET /api/v1/products/{productType}
type ProductResponse struct {
	ProductType string             `json:"product_type"`
	SnapshotID  catalog.SnapshotID `json:"snapshot_id"`
	TierBasis   catalog.TierBasis  `json:"tier_basis"`
	Currency    string             `json:"currency"`
	Operations  []OperationView    `json:"operations"`
	Materials   []MaterialRuleView `json:"materials"`
}

// OperationView is one operation norm
type OperationView struct {
	Operation string `json:"operation"`
	ServiceID string `json:"service_id"`
	Formula   string `json:"formula"`
}

// MaterialRuleView summarizes a material rule
type MaterialRuleView struct {
	Key            string   `json:"key"`
	Name           string   `json:"name,omitempty"`
	FieldPrefix    string   `json:"field_prefix,omitempty"`
	RequiredFields []string `json:"required_fields"`
	Papers         []string `json:"papers"`
}
