// Package config provides configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"printshop/core/catalog"
	"printshop/core/engine"
	"printshop/core/pricing"
	perrors "printshop/internal/errors"
	"printshop/internal/logging"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PRINTSHOP_"

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Pricing contains pricing configuration
	Pricing PricingConfig `json:"pricing"`

	// Database contains catalog store configuration
	Database DatabaseConfig `json:"database"`

	// Server contains HTTP server configuration
	Server ServerConfig `json:"server"`

	// Output contains CLI output configuration
	Output OutputConfig `json:"output"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// PricingConfig contains pricing-related settings
type PricingConfig struct {
	// Currency is the working currency
	Currency string `json:"currency"`

	// Precision is the number of currency decimals
	Precision int32 `json:"precision"`

	// TierBasis is "consumed" or "order"
	TierBasis string `json:"tier_basis"`

	// Channels maps channel tags to their adjustment
	Channels map[string]ChannelConfig `json:"channels"`

	// Customers maps customer types to their factor
	Customers map[string]float64 `json:"customers"`

	// Aliases maps alternative tags onto configured ones, e.g. urgent -> rush
	Aliases map[string]string `json:"aliases,omitempty"`
}

// ChannelConfig is the adjustment of one sales channel
type ChannelConfig struct {
	Factor    float64 `json:"factor"`
	Surcharge float64 `json:"surcharge,omitempty"`
}

// DatabaseConfig selects the catalog source
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `json:"driver"`

	// DSN is the sqlite file path or the postgres connection URL
	DSN string `json:"dsn"`

	// Catalog is an HCL catalog file used instead of the database when set
	Catalog string `json:"catalog,omitempty"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Addr                string `json:"addr"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// OutputConfig contains output-related settings
type OutputConfig struct {
	// DefaultFormat is the default output format (table, json)
	DefaultFormat string `json:"default_format"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".printshop", "catalog.db")

	markup := pricing.DefaultMarkupConfig()
	channels := make(map[string]ChannelConfig, len(markup.Channels))
	for tag, rule := range markup.Channels {
		channels[tag] = ChannelConfig{Factor: rule.Factor.InexactFloat64(), Surcharge: rule.Surcharge.InexactFloat64()}
	}
	customers := make(map[string]float64, len(markup.Customers))
	for tag, f := range markup.Customers {
		customers[tag] = f.InexactFloat64()
	}

	return &Config{
		Version: "1.0",
		Pricing: PricingConfig{
			Currency:  "USD",
			Precision: pricing.DefaultPrecision,
			TierBasis: string(catalog.TierBasisConsumed),
			Channels:  channels,
			Customers: customers,
			Aliases:   markup.Aliases,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    dbPath,
		},
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 10,
		},
		Output: OutputConfig{
			DefaultFormat: "table",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, then applies .env and environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, perrors.Config("read config file", err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, perrors.Config("parse config file "+path, err)
			}
		}
	}

	// Best effort: a missing .env is normal outside development.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from PRINTSHOP_* variables. DATABASE_URL
// selects postgres when no PRINTSHOP_DB_DSN is set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	str("CURRENCY", &c.Pricing.Currency)
	str("TIER_BASIS", &c.Pricing.TierBasis)
	str("DB_DRIVER", &c.Database.Driver)
	str("CATALOG", &c.Database.Catalog)
	str("ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("OUTPUT", &c.Output.DefaultFormat)

	if v, ok := lookup(EnvPrefix + "DB_DSN"); ok && v != "" {
		c.Database.DSN = v
	} else if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
	}

	if v, ok := lookup(EnvPrefix + "PRECISION"); ok && v != "" {
		p, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return perrors.Config(EnvPrefix+"PRECISION must be an integer", err)
		}
		c.Pricing.Precision = int32(p)
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pricing.Currency) == "" {
		return perrors.Config("pricing.currency is required", nil)
	}
	if c.Pricing.Precision < 0 || c.Pricing.Precision > 8 {
		return perrors.Config(fmt.Sprintf("pricing.precision %d outside 0..8", c.Pricing.Precision), nil)
	}
	if _, err := catalog.ParseTierBasis(c.Pricing.TierBasis); err != nil {
		return perrors.Config("pricing.tier_basis", err)
	}
	for tag, ch := range c.Pricing.Channels {
		if ch.Factor <= 0 {
			return perrors.Config(fmt.Sprintf("channel %q needs a positive factor", tag), nil)
		}
	}
	for tag, f := range c.Pricing.Customers {
		if f <= 0 {
			return perrors.Config(fmt.Sprintf("customer type %q needs a positive factor", tag), nil)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return perrors.Config(fmt.Sprintf("unknown database driver %q", c.Database.Driver), nil)
	}
	return nil
}

// EngineConfig converts the pricing settings for the engine
func (c *Config) EngineConfig() engine.Config {
	basis, _ := catalog.ParseTierBasis(c.Pricing.TierBasis)
	markup := pricing.MarkupConfig{
		Channels:  make(map[string]pricing.ChannelRule, len(c.Pricing.Channels)),
		Customers: make(map[string]decimal.Decimal, len(c.Pricing.Customers)),
		Aliases:   c.Pricing.Aliases,
	}
	for tag, ch := range c.Pricing.Channels {
		markup.Channels[tag] = pricing.ChannelRule{
			Factor:    decimal.NewFromFloat(ch.Factor),
			Surcharge: decimal.NewFromFloat(ch.Surcharge),
		}
	}
	for tag, f := range c.Pricing.Customers {
		markup.Customers[tag] = decimal.NewFromFloat(f)
	}
	return engine.Config{
		Currency:  strings.ToUpper(strings.TrimSpace(c.Pricing.Currency)),
		Precision: c.Pricing.Precision,
		TierBasis: basis,
		Markup:    markup,
	}
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
