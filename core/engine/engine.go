// Package engine provides the pricing calculation entry point.
// The CLI and the HTTP API are thin wrappers around Engine.Calculate.
package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"printshop/core/catalog"
	"printshop/core/expression"
	"printshop/core/pricing"
	perrors "printshop/internal/errors"
)

// Engine computes itemized prices. It holds no per-request state; every
// call loads its own catalog snapshot.
type Engine struct {
	reader   catalog.Reader
	config   Config
	money    pricing.Money
	markup   *pricing.MarkupPolicy
	logger   *zap.Logger
	observer Observer
}

// Config configures the engine. Start from DefaultConfig and override
// fields; Precision 0 is a valid setting that rounds to whole units.
type Config struct {
	// Currency is the working currency every record must be priced in
	Currency string

	// Precision is the number of currency decimals totals are rounded to
	Precision int32

	// TierBasis is the deployment default for tier lookup
	TierBasis catalog.TierBasis

	Markup pricing.MarkupConfig
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Currency:  "USD",
		Precision: pricing.DefaultPrecision,
		TierBasis: catalog.TierBasisConsumed,
		Markup:    pricing.DefaultMarkupConfig(),
	}
}

// UnknownProductType is the product type reported to the observer for
// requests that never resolved to a configured product
const UnknownProductType = "unknown"

// Observer receives calculation outcomes, e.g. for metrics. productType is
// either a configured product type or UnknownProductType.
type Observer interface {
	ObserveCalculation(productType string, errType string, d time.Duration)
	ObserveFallback(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveCalculation(string, string, time.Duration) {}
func (nopObserver) ObserveFallback(string)                           {}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the calculation observer
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an engine reading configuration from r. Blank fields take
// their DefaultConfig values: a Config without a currency is treated as
// unset and also gets the default precision, and a Markup without channels
// or customer types gets the default factors.
func New(r catalog.Reader, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
		if cfg.Precision == 0 {
			cfg.Precision = def.Precision
		}
	}
	if cfg.TierBasis == "" {
		cfg.TierBasis = def.TierBasis
	}
	if len(cfg.Markup.Channels) == 0 && len(cfg.Markup.Customers) == 0 {
		cfg.Markup = def.Markup
	}
	money := pricing.Money{Currency: cfg.Currency, Precision: cfg.Precision}
	e := &Engine{
		reader:   r,
		config:   cfg,
		money:    money,
		markup:   pricing.NewMarkupPolicy(cfg.Markup, money),
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CalculateRequest is the input to a calculation
type CalculateRequest struct {
	ProductType    string         `json:"product_type"`
	Quantity       float64        `json:"quantity"`
	Channel        string         `json:"channel,omitempty"`
	CustomerType   string         `json:"customer_type,omitempty"`
	Specifications map[string]any `json:"specifications,omitempty"`
}

// CalculateResponse is the full itemized price
type CalculateResponse struct {
	Materials []pricing.BreakdownLine `json:"materials"`
	Services  []pricing.BreakdownLine `json:"services"`
	Subtotal  decimal.Decimal         `json:"subtotal"`
	Markup    decimal.Decimal         `json:"markup"`
	Final     decimal.Decimal         `json:"final"`
	Currency  string                  `json:"currency"`
	Meta      Meta                    `json:"meta"`
}

// Meta describes how a price was resolved
type Meta struct {
	SnapshotID     catalog.SnapshotID `json:"snapshot_id"`
	TierBasis      catalog.TierBasis  `json:"tier_basis"`
	Channel        string             `json:"channel"`
	CustomerType   string             `json:"customer_type"`
	ChannelFactor  decimal.Decimal    `json:"channel_factor"`
	CustomerFactor decimal.Decimal    `json:"customer_factor"`
	Surcharge      decimal.Decimal    `json:"surcharge"`
	Layout         *pricing.Layout    `json:"layout,omitempty"`
	Context        map[string]float64 `json:"context"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// Calculate prices a request. It either returns every line or fails; no
// partial breakdown is ever returned.
func (e *Engine) Calculate(ctx context.Context, req CalculateRequest) (resp *CalculateResponse, err error) {
	start := time.Now()
	label := UnknownProductType
	defer func() {
		errType := ""
		if err != nil {
			errType = string(perrors.TypeOf(err))
		}
		e.observer.ObserveCalculation(label, errType, time.Since(start))
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	productType := strings.TrimSpace(req.ProductType)

	snap, err := catalog.Load(ctx, e.reader, productType)
	if err != nil {
		return nil, err
	}
	if err := configured(snap, productType); err != nil {
		return nil, err
	}
	label = productType

	log := e.logger.With(
		zap.String("product_type", productType),
		zap.String("snapshot", string(snap.ID())),
	)
	return e.calculate(snap, productType, req, log)
}

// Snapshot loads the catalog view used to price a product type
func (e *Engine) Snapshot(ctx context.Context, productType string) (*catalog.Snapshot, error) {
	return catalog.Load(ctx, e.reader, strings.TrimSpace(productType))
}

// TierBasis returns the tier basis in effect for a product type in snap
func (e *Engine) TierBasis(snap *catalog.Snapshot, productType string) catalog.TierBasis {
	return pricing.NewNormResolver(snap, e.config.TierBasis, e.money).TierBasis(productType)
}

// Currency returns the working currency
func (e *Engine) Currency() string {
	return e.money.Currency
}

// CalculateWithSnapshot prices a request against an already loaded snapshot
func (e *Engine) CalculateWithSnapshot(snap *catalog.Snapshot, req CalculateRequest) (*CalculateResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	productType := strings.TrimSpace(req.ProductType)
	if err := configured(snap, productType); err != nil {
		return nil, err
	}
	return e.calculate(snap, productType, req, e.logger.With(zap.String("product_type", productType)))
}

// configured fails for a product type with no active operations and no
// material rules; quoting it would price the job at zero.
func configured(snap *catalog.Snapshot, productType string) error {
	if len(snap.Norms(productType)) == 0 && len(snap.MaterialRules(productType)) == 0 {
		return perrors.NotFound("product type", productType)
	}
	return nil
}

func (e *Engine) calculate(snap *catalog.Snapshot, productType string, req CalculateRequest, log *zap.Logger) (*CalculateResponse, error) {
	materials, err := pricing.NewMaterialResolver(snap, e.money).Resolve(productType, req.Specifications, req.Quantity)
	if err != nil {
		log.Debug("material resolution failed", zap.Error(err))
		return nil, err
	}

	evalCtx := buildContext(req, materials)

	norms := pricing.NewNormResolver(snap, e.config.TierBasis, e.money)
	var services []pricing.BreakdownLine
	for _, n := range snap.Norms(productType) {
		line, err := norms.Resolve(productType, n.Operation, evalCtx, req.Quantity)
		if err != nil {
			log.Debug("operation failed", zap.String("operation", n.Operation), zap.Error(err))
			return nil, err
		}
		if line.Outcome == catalog.Fallback {
			e.observer.ObserveFallback("base_rate")
		}
		services = append(services, line)
	}

	subtotal := decimal.Zero
	for _, l := range materials.Lines {
		subtotal = subtotal.Add(l.Total)
	}
	for _, l := range services {
		subtotal = subtotal.Add(l.Total)
	}

	markup := e.markup.Apply(subtotal, req.Channel, req.CustomerType)
	var warnings []string
	if markup.ChannelFallback {
		e.observer.ObserveFallback("channel")
		warnings = append(warnings, "unknown channel "+req.Channel+", using "+markup.Channel)
		log.Warn("unknown channel, using default", zap.String("channel", req.Channel))
	}
	if markup.CustomerFallback {
		e.observer.ObserveFallback("customer_type")
		warnings = append(warnings, "unknown customer type "+req.CustomerType+", using "+markup.CustomerType)
		log.Warn("unknown customer type, using default", zap.String("customer_type", req.CustomerType))
	}

	resp := &CalculateResponse{
		Materials: nonNil(materials.Lines),
		Services:  nonNil(services),
		Subtotal:  subtotal,
		Markup:    markup.Amount,
		Final:     subtotal.Add(markup.Amount),
		Currency:  e.money.Currency,
		Meta: Meta{
			SnapshotID:     snap.ID(),
			TierBasis:      norms.TierBasis(productType),
			Channel:        markup.Channel,
			CustomerType:   markup.CustomerType,
			ChannelFactor:  markup.ChannelFactor,
			CustomerFactor: markup.CustomerFactor,
			Surcharge:      markup.Surcharge,
			Context:        evalCtx,
			Warnings:       warnings,
		},
	}
	if layout, ok := materials.Primary(); ok {
		resp.Meta.Layout = &layout
	}

	log.Debug("calculated",
		zap.Int("materials", len(resp.Materials)),
		zap.Int("services", len(resp.Services)),
		zap.String("subtotal", resp.Subtotal.String()),
		zap.String("final", resp.Final.String()),
	)
	return resp, nil
}

func validateRequest(req CalculateRequest) error {
	if strings.TrimSpace(req.ProductType) == "" {
		return perrors.InvalidRequest("product type is required")
	}
	if math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) || req.Quantity <= 0 {
		return perrors.InvalidRequest("quantity must be a positive number").WithContext("quantity", req.Quantity)
	}
	return nil
}

// buildContext assembles formula variables: numeric specifications, then the
// derived fields, which take precedence over specification keys.
func buildContext(req CalculateRequest, materials pricing.MaterialResult) expression.Context {
	ctx := expression.Context(pricing.NumericSpecs(req.Specifications))

	sides, ok := ctx["sides"]
	if !ok || sides <= 0 {
		sides = 1
	}
	ctx["sides"] = sides
	ctx["quantity"] = req.Quantity

	if layout, ok := materials.Primary(); ok {
		ctx["sheets"] = layout.Sheets
		ctx["waste"] = layout.Waste
		ctx["up"] = float64(layout.Up)
	} else {
		ctx["sheets"] = req.Quantity
		ctx["waste"] = 0
		ctx["up"] = 1
	}
	return ctx
}

func nonNil(lines []pricing.BreakdownLine) []pricing.BreakdownLine {
	if lines == nil {
		return []pricing.BreakdownLine{}
	}
	return lines
}
