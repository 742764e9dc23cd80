package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop/core/engine"
	"printshop/core/pricing"
)

func sampleQuote() *Quote {
	d := decimal.RequireFromString
	return &Quote{
		Request: engine.CalculateRequest{ProductType: "flyers", Quantity: 100, Channel: "fax"},
		Response: &engine.CalculateResponse{
			Materials: []pricing.BreakdownLine{
				{Kind: pricing.KindMaterial, Name: "Paper semi-matte 150", Unit: "sheet", Quantity: d("13"), Rate: d("0.12"), Total: d("1.56"), Ref: "sm150"},
			},
			Services: []pricing.BreakdownLine{
				{Kind: pricing.KindService, Name: "Digital print", Unit: "sheet", Quantity: d("25"), Rate: d("2"), Total: d("50"), Ref: "printing"},
			},
			Subtotal: d("51.56"),
			Markup:   decimal.Zero,
			Final:    d("51.56"),
			Currency: "USD",
			Meta: engine.Meta{
				SnapshotID:   "snap-1",
				TierBasis:    "consumed",
				Channel:      "manager",
				CustomerType: "regular",
				Layout:       &pricing.Layout{RuleKey: "paper", Format: "A6", Up: 9, Sheets: 12, Waste: 1},
				Warnings:     []string{"unknown channel fax, using manager"},
			},
		},
	}
}

func TestNew(t *testing.T) {
	f, err := New("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f.Format())

	f, err = New("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f.Format())

	_, err = New("html")
	assert.Error(t, err)
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, TableFormatter{}.Render(&buf, sampleQuote()))
	out := buf.String()

	assert.Contains(t, out, "QUOTE: flyers x 100")
	assert.Contains(t, out, "Digital print: 25 sheet x 2")
	assert.Contains(t, out, "50.00 USD")
	assert.Contains(t, out, "MARKUP (manager, regular)")
	assert.Contains(t, out, "51.56 USD")
	assert.Contains(t, out, "Layout: A6, 9 up, 12 sheets + 1 waste")
	assert.Contains(t, out, "Warning: unknown channel fax, using manager")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONFormatter{}.Render(&buf, sampleQuote()))

	var decoded struct {
		Request  map[string]any `json:"request"`
		Response map[string]any `json:"response"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "flyers", decoded.Request["product_type"])
	assert.Equal(t, "51.56", decoded.Response["final"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
