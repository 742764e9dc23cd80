package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Default channel and customer tags
const (
	DefaultChannel      = "manager"
	DefaultCustomerType = "regular"
)

// ChannelRule is the price adjustment of a sales channel: the subtotal is
// multiplied by Factor and Surcharge is added.
type ChannelRule struct {
	Factor    decimal.Decimal `json:"factor"`
	Surcharge decimal.Decimal `json:"surcharge"`
}

// MarkupConfig holds channel and customer-type adjustments
type MarkupConfig struct {
	Channels  map[string]ChannelRule     `json:"channels"`
	Customers map[string]decimal.Decimal `json:"customers"`
	Aliases   map[string]string          `json:"aliases,omitempty"`
}

// DefaultMarkupConfig returns the stock channel and customer factors
func DefaultMarkupConfig() MarkupConfig {
	f := decimal.RequireFromString
	return MarkupConfig{
		Channels: map[string]ChannelRule{
			"manager": {Factor: decimal.NewFromInt(1)},
			"online":  {Factor: f("0.95")},
			"rush":    {Factor: f("1.5")},
			"promo":   {Factor: f("0.9")},
		},
		Customers: map[string]decimal.Decimal{
			"regular":   decimal.NewFromInt(1),
			"vip":       f("0.9"),
			"wholesale": f("0.95"),
		},
		Aliases: map[string]string{
			"urgent":  "rush",
			"default": "manager",
		},
	}
}

// Markup is the applied channel and customer adjustment
type Markup struct {
	Amount         decimal.Decimal `json:"amount"`
	Channel        string          `json:"channel"`
	CustomerType   string          `json:"customer_type"`
	ChannelFactor  decimal.Decimal `json:"channel_factor"`
	CustomerFactor decimal.Decimal `json:"customer_factor"`
	Surcharge      decimal.Decimal `json:"surcharge"`

	// Set when an unrecognized tag was replaced by the default
	ChannelFallback  bool `json:"channel_fallback,omitempty"`
	CustomerFallback bool `json:"customer_fallback,omitempty"`
}

// MarkupPolicy applies channel and customer-type adjustments to a subtotal.
// Unknown tags never fail: they resolve to the manager and regular defaults.
type MarkupPolicy struct {
	cfg   MarkupConfig
	money Money
}

// NewMarkupPolicy creates a markup policy. Missing default entries are
// filled with neutral factors.
func NewMarkupPolicy(cfg MarkupConfig, money Money) *MarkupPolicy {
	out := MarkupConfig{
		Channels:  make(map[string]ChannelRule, len(cfg.Channels)+1),
		Customers: make(map[string]decimal.Decimal, len(cfg.Customers)+1),
		Aliases:   make(map[string]string, len(cfg.Aliases)),
	}
	for k, v := range cfg.Channels {
		out.Channels[normalizeTag(k)] = v
	}
	for k, v := range cfg.Customers {
		out.Customers[normalizeTag(k)] = v
	}
	for k, v := range cfg.Aliases {
		out.Aliases[normalizeTag(k)] = normalizeTag(v)
	}
	if _, ok := out.Channels[DefaultChannel]; !ok {
		out.Channels[DefaultChannel] = ChannelRule{Factor: decimal.NewFromInt(1)}
	}
	if _, ok := out.Customers[DefaultCustomerType]; !ok {
		out.Customers[DefaultCustomerType] = decimal.NewFromInt(1)
	}
	return &MarkupPolicy{cfg: out, money: money}
}

// Apply computes the signed markup for a subtotal. Factors multiply:
// markup = subtotal*channel*customer + surcharge - subtotal.
func (p *MarkupPolicy) Apply(subtotal decimal.Decimal, channel, customerType string) Markup {
	ch, chFallback := p.channel(channel)
	cu, cuFallback := p.customer(customerType)
	rule := p.cfg.Channels[ch]
	factor := p.cfg.Customers[cu]

	adjusted := subtotal.Mul(rule.Factor).Mul(factor).Add(rule.Surcharge)
	return Markup{
		Amount:           p.money.Round(adjusted.Sub(subtotal)),
		Channel:          ch,
		CustomerType:     cu,
		ChannelFactor:    rule.Factor,
		CustomerFactor:   factor,
		Surcharge:        rule.Surcharge,
		ChannelFallback:  chFallback,
		CustomerFallback: cuFallback,
	}
}

func (p *MarkupPolicy) channel(tag string) (string, bool) {
	t := normalizeTag(tag)
	if t == "" {
		return DefaultChannel, false
	}
	if alias, ok := p.cfg.Aliases[t]; ok {
		t = alias
	}
	if _, ok := p.cfg.Channels[t]; ok {
		return t, false
	}
	return DefaultChannel, true
}

func (p *MarkupPolicy) customer(tag string) (string, bool) {
	t := normalizeTag(tag)
	if t == "" {
		return DefaultCustomerType, false
	}
	if alias, ok := p.cfg.Aliases[t]; ok {
		t = alias
	}
	if _, ok := p.cfg.Customers[t]; ok {
		return t, false
	}
	return DefaultCustomerType, true
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
