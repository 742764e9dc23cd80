package hclcatalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop/core/catalog"
	"printshop/core/engine"
	perrors "printshop/internal/errors"
)

const flyersCatalog = `
currency = "USD"

service "digital" {
  name      = "Digital print"
  unit      = "sheet"
  base_rate = 2.00

  tier {
    min_quantity = 100
    rate         = 1.75
  }

  tier {
    id           = "digital-bulk"
    min_quantity = 500
    rate         = "1.40"
  }
}

service "offset" {
  name      = "Offset"
  unit      = "sheet"
  base_rate = 0.5
  active    = false
}

product "flyers" {
  operation "printing" {
    service = "digital"
    formula = "ceil(quantity / 4) * sides"
  }

  material "paper" {
    name          = "Paper"
    press_sheet   = "SRA3"
    waste_percent = 5
    required      = ["format", "paperType", "paperDensity"]

    pieces_per_sheet = {
      A6 = 8
    }

    paper "sm150" {
      type            = "semi-matte"
      density         = 150
      price_per_sheet = 0.12
    }
  }
}

product "cards" {
  tier_basis = "order"
}
`

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParse(t *testing.T) {
	mem, err := Parse([]byte(flyersCatalog), "catalog.hcl")
	require.NoError(t, err)

	require.Len(t, mem.Services, 2)
	digital := mem.Services[0]
	assert.Equal(t, "digital", digital.ID)
	assert.True(t, digital.BaseRate.Equal(dec("2")))
	assert.Equal(t, "USD", digital.Currency)
	assert.True(t, digital.IsActive)
	assert.False(t, mem.Services[1].IsActive)

	require.Len(t, mem.Tiers, 2)
	assert.Equal(t, "digital-100", mem.Tiers[0].ID)
	assert.Equal(t, "digital-bulk", mem.Tiers[1].ID)
	assert.True(t, mem.Tiers[1].Rate.Equal(dec("1.4")))

	require.Len(t, mem.Norms, 1)
	assert.Equal(t, "flyers/printing", mem.Norms[0].ID)
	assert.Equal(t, "digital", mem.Norms[0].ServiceID)

	require.Len(t, mem.Materials, 1)
	rule := mem.Materials[0]
	assert.Equal(t, catalog.SheetSize{WidthMM: 320, HeightMM: 450}, rule.PressSheet)
	assert.Equal(t, map[string]int{"A6": 8}, rule.PiecesPerSheet)
	require.Len(t, rule.Papers, 1)
	assert.True(t, rule.Papers[0].PricePerSheet.Equal(dec("0.12")))
	assert.Equal(t, "USD", rule.Papers[0].Currency)

	require.Len(t, mem.Policies, 1)
	assert.Equal(t, catalog.TierBasisOrder, mem.Policies[0].TierBasis)
}

func TestParsedCatalogPrices(t *testing.T) {
	mem, err := Parse([]byte(flyersCatalog), "catalog.hcl")
	require.NoError(t, err)
	assert.False(t, catalog.HasErrors(mem.Validate(catalog.DefaultValidationRules())))

	resp, err := engine.New(mem, engine.DefaultConfig()).Calculate(context.Background(), engine.CalculateRequest{
		ProductType: "flyers",
		Quantity:    100,
		Specifications: map[string]any{
			"format": "A6", "sides": 2, "paperType": "semi-matte", "paperDensity": 150,
		},
	})
	require.NoError(t, err)

	// 25 * 2 sides = 50 sheets at base rate, 13 sheets + 1 waste of paper
	require.Len(t, resp.Services, 1)
	assert.True(t, resp.Services[0].Total.Equal(dec("100")))
	require.Len(t, resp.Materials, 1)
	assert.True(t, resp.Materials[0].Total.Equal(dec("1.68")))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `service "x" {`},
		{"missing attribute", `service "x" { name = "X" }`},
		{"bad rate", `service "x" {
  name      = "X"
  unit      = "item"
  base_rate = "cheap"
}`},
		{"rate not a number", `service "x" {
  name      = "X"
  unit      = "item"
  base_rate = true
}`},
		{"unknown press sheet", `product "p" {
  material "m" {
    press_sheet = "Z9"
  }
}`},
		{"bad tier basis", `product "p" {
  tier_basis = "monthly"
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.hcl")
			require.Error(t, err)
			assert.True(t, perrors.IsType(err, perrors.TypeConfig))
			assert.Contains(t, err.Error(), "bad.hcl")
		})
	}
}

func TestLoadDirMergesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-services.hcl"), []byte(`
service "cut" {
  name      = "Cutting"
  unit      = "cut"
  base_rate = 0.3
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-products.hcl"), []byte(`
product "cards" {
  operation "cutting" {
    service = "cut"
    formula = "ceil(quantity / 24)"
  }
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	mem, err := FileSource{Path: dir}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, mem.Services, 1)
	require.Len(t, mem.Norms, 1)
	assert.Equal(t, "cut", mem.Norms[0].ServiceID)
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.TypeConfig))

	_, err = LoadDir(t.TempDir())
	assert.Error(t, err)
}
