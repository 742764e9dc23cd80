package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop/core/catalog"
	"printshop/core/expression"
	perrors "printshop/internal/errors"
)

var usd = Money{Currency: "USD", Precision: DefaultPrecision}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSnapshot() *catalog.Snapshot {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return catalog.NewBuilder().
		AddService(catalog.Service{ID: "laser", Name: "Laser print", Unit: "sheet", BaseRate: dec("12"), Currency: "USD", IsActive: true}).
		AddService(catalog.Service{ID: "flat", Name: "Flat print", Unit: "sheet", BaseRate: dec("2.0"), Currency: "USD", IsActive: true}).
		AddService(catalog.Service{ID: "euro", Name: "Euro print", Unit: "sheet", BaseRate: dec("1"), Currency: "EUR", IsActive: true}).
		AddService(catalog.Service{ID: "gone", Name: "Gone", Unit: "item", BaseRate: dec("1"), Currency: "USD", IsActive: false}).
		AddTier(catalog.VolumeTier{ID: "l1", ServiceID: "laser", MinQuantity: 1, Rate: dec("10"), IsActive: true, CreatedAt: t0}).
		AddTier(catalog.VolumeTier{ID: "l50", ServiceID: "laser", MinQuantity: 50, Rate: dec("8"), IsActive: true, CreatedAt: t0}).
		AddTier(catalog.VolumeTier{ID: "l200", ServiceID: "laser", MinQuantity: 200, Rate: dec("6"), IsActive: true, CreatedAt: t0}).
		AddTier(catalog.VolumeTier{ID: "l200b", ServiceID: "laser", MinQuantity: 200, Rate: dec("5.5"), IsActive: true, CreatedAt: t0.Add(time.Hour)}).
		AddTier(catalog.VolumeTier{ID: "l500off", ServiceID: "laser", MinQuantity: 500, Rate: dec("1"), IsActive: false, CreatedAt: t0}).
		AddNorm(catalog.OperationNorm{ProductType: "flyers", Operation: "printing", ServiceID: "laser", Formula: "ceil(quantity/up)", IsActive: true}).
		AddNorm(catalog.OperationNorm{ProductType: "flyers", Operation: "proof", ServiceID: "flat", Formula: "quantity*0", IsActive: true}).
		AddNorm(catalog.OperationNorm{ProductType: "flyers", Operation: "credit", ServiceID: "flat", Formula: "sheets - 100", IsActive: true}).
		AddNorm(catalog.OperationNorm{ProductType: "flyers", Operation: "retired", ServiceID: "gone", Formula: "1", IsActive: true}).
		AddNorm(catalog.OperationNorm{ProductType: "flyers", Operation: "foreign", ServiceID: "euro", Formula: "1", IsActive: true}).
		AddNorm(catalog.OperationNorm{ProductType: "flyers", Operation: "broken", ServiceID: "flat", Formula: "ceil(quantity/", IsActive: true}).
		AddNorm(catalog.OperationNorm{ProductType: "cards", Operation: "printing", ServiceID: "laser", Formula: "ceil(quantity/up)", IsActive: true}).
		SetPolicy(catalog.ProductPolicy{ProductType: "cards", TierBasis: catalog.TierBasisOrder}).
		AddMaterialRule(catalog.MaterialRule{
			ProductType:    "flyers",
			Key:            "paper",
			PressSheet:     catalog.SheetSize{WidthMM: 320, HeightMM: 450},
			WastePercent:   5,
			RequiredFields: []string{"format", "paperType", "paperDensity"},
			Papers: []catalog.Paper{
				{ID: "sm150", Type: "semi-matte", Density: 150, PricePerSheet: dec("0.12"), Currency: "USD", IsActive: true},
				{ID: "gl300", Type: "gloss", Density: 300, PricePerSheet: dec("0.30"), IsActive: true},
				{ID: "old", Type: "gloss", Density: 90, PricePerSheet: dec("0.05"), IsActive: false},
			},
		}).
		AddMaterialRule(catalog.MaterialRule{
			ProductType:    "flyers",
			Key:            "sticker",
			FieldPrefix:    "sticker",
			PressSheet:     catalog.SheetSize{WidthMM: 320, HeightMM: 450},
			BleedMM:        2,
			PiecesPerSheet: map[string]int{"round50": 40},
			Papers: []catalog.Paper{
				{ID: "vinyl", Type: "vinyl", Density: 80, Name: "White vinyl", PricePerSheet: dec("1.10"), IsActive: true},
			},
		}).
		Build()
}

func TestTierMonotonicity(t *testing.T) {
	r := NewTierResolver(testSnapshot())

	tests := []struct {
		qty      float64
		wantRate string
		wantTier string
	}{
		{1, "10", "l1"},
		{49, "10", "l1"},
		{49.99, "10", "l1"},
		{50, "8", "l50"},
		{199, "8", "l50"},
		{500, "5.5", "l200b"}, // inactive l500off ignored, newer l200b wins the tie
	}
	for _, tt := range tests {
		res, err := r.ResolveRate("laser", tt.qty)
		require.NoError(t, err)
		assert.True(t, res.Rate.Equal(dec(tt.wantRate)), "qty %g: got %s", tt.qty, res.Rate)
		assert.Equal(t, tt.wantTier, res.TierID)
		assert.Equal(t, catalog.Found, res.Outcome)
	}
}

func TestTierFallsBackToBaseRate(t *testing.T) {
	r := NewTierResolver(testSnapshot())

	for _, q := range []float64{0.5, 1, 1e6} {
		res, err := r.ResolveRate("flat", q)
		require.NoError(t, err)
		assert.True(t, res.Rate.Equal(dec("2")))
		assert.Empty(t, res.TierID)
		assert.Equal(t, catalog.Fallback, res.Outcome)
	}

	// below the smallest tier
	res, err := r.ResolveRate("laser", 0.5)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(dec("12")))
	assert.Equal(t, catalog.Fallback, res.Outcome)
}

func TestTierResolverErrors(t *testing.T) {
	r := NewTierResolver(testSnapshot())

	_, err := r.ResolveRate("laser", 0)
	assert.True(t, perrors.IsType(err, perrors.TypeInvalidQuantity))

	_, err = r.ResolveRate("laser", -5)
	assert.True(t, perrors.IsType(err, perrors.TypeInvalidQuantity))

	_, err = r.ResolveRate("gone", 10)
	assert.True(t, perrors.IsType(err, perrors.TypeServiceUnavailable))

	_, err = r.ResolveRate("missing", 10)
	assert.True(t, perrors.IsType(err, perrors.TypeServiceUnavailable))
}

func TestNormResolverConsumedBasis(t *testing.T) {
	r := NewNormResolver(testSnapshot(), catalog.TierBasisConsumed, usd)

	line, err := r.Resolve("flyers", "printing", expression.Context{"quantity": 1000, "up": 4}, 1000)
	require.NoError(t, err)

	assert.Equal(t, KindService, line.Kind)
	assert.Equal(t, "Laser print", line.Name)
	assert.Equal(t, "sheet", line.Unit)
	assert.Equal(t, "printing", line.Ref)
	assert.True(t, line.Quantity.Equal(dec("250")))
	assert.True(t, line.Rate.Equal(dec("5.5")))
	assert.Equal(t, "l200b", line.TierID)
	assert.Equal(t, "1375", line.Total.String())
}

func TestNormResolverOrderBasis(t *testing.T) {
	// deployment default is order
	r := NewNormResolver(testSnapshot(), catalog.TierBasisOrder, usd)
	line, err := r.Resolve("flyers", "printing", expression.Context{"quantity": 100, "up": 4}, 100)
	require.NoError(t, err)
	assert.True(t, line.Quantity.Equal(dec("25")))
	assert.Equal(t, "l50", line.TierID)
	assert.Equal(t, "200", line.Total.String())

	// product policy overrides the consumed default
	r = NewNormResolver(testSnapshot(), catalog.TierBasisConsumed, usd)
	assert.Equal(t, catalog.TierBasisOrder, r.TierBasis("cards"))
	assert.Equal(t, catalog.TierBasisConsumed, r.TierBasis("flyers"))

	line, err = r.Resolve("cards", "printing", expression.Context{"quantity": 100, "up": 4}, 100)
	require.NoError(t, err)
	assert.Equal(t, "l50", line.TierID)
}

func TestNormResolverZeroConsumedIsZeroLine(t *testing.T) {
	r := NewNormResolver(testSnapshot(), catalog.TierBasisConsumed, usd)

	line, err := r.Resolve("flyers", "proof", expression.Context{"quantity": 100}, 100)
	require.NoError(t, err)
	assert.True(t, line.Quantity.IsZero())
	assert.True(t, line.Total.IsZero())
	assert.True(t, line.Rate.Equal(dec("2")))
	assert.Equal(t, catalog.Fallback, line.Outcome)
}

func TestNormResolverErrors(t *testing.T) {
	r := NewNormResolver(testSnapshot(), catalog.TierBasisConsumed, usd)
	ctx := expression.Context{"quantity": 100, "sheets": 10, "up": 4}

	tests := []struct {
		operation string
		ctx       expression.Context
		want      perrors.Type
	}{
		{"lamination", ctx, perrors.TypeOperationNotConfigured},
		{"retired", ctx, perrors.TypeServiceUnavailable},
		{"credit", ctx, perrors.TypeInvalidQuantity},
		{"foreign", ctx, perrors.TypeCurrencyMismatch},
		{"broken", ctx, perrors.TypeInvalidFormula},
		{"printing", expression.Context{"quantity": 100}, perrors.TypeUnknownVariable},
		{"printing", expression.Context{"quantity": 100, "up": 0}, perrors.TypeDivisionByZero},
	}
	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			_, err := r.Resolve("flyers", tt.operation, tt.ctx, 100)
			require.Error(t, err)
			assert.Equal(t, tt.want, perrors.TypeOf(err))
		})
	}
}

func TestNormResolverDoesNotMutateCachedErrors(t *testing.T) {
	snap := testSnapshot()
	r := NewNormResolver(snap, catalog.TierBasisConsumed, usd)

	_, err := r.Resolve("flyers", "broken", expression.Context{}, 1)
	e, ok := perrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "broken", e.Context["operation"])

	n, _ := snap.Norm("flyers", "broken")
	_, cached := snap.Formula(n)
	ce, ok := perrors.As(cached)
	require.True(t, ok)
	assert.NotContains(t, ce.Context, "operation")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want catalog.SheetSize
		ok   bool
	}{
		{"A6", catalog.SheetSize{WidthMM: 105, HeightMM: 148}, true},
		{" a4 ", catalog.SheetSize{WidthMM: 210, HeightMM: 297}, true},
		{"sra3", catalog.SheetSize{WidthMM: 320, HeightMM: 450}, true},
		{"euro", catalog.SheetSize{WidthMM: 85, HeightMM: 55}, true},
		{"90x50", catalog.SheetSize{WidthMM: 90, HeightMM: 50}, true},
		{"90 × 50", catalog.SheetSize{WidthMM: 90, HeightMM: 50}, true},
		{"0x50", catalog.SheetSize{}, false},
		{"A9", catalog.SheetSize{}, false},
		{"wide", catalog.SheetSize{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPiecesPerSheet(t *testing.T) {
	sra3 := catalog.SheetSize{WidthMM: 320, HeightMM: 450}

	assert.Equal(t, 9, PiecesPerSheet(formats["A6"], sra3, 0))
	assert.Equal(t, 8, PiecesPerSheet(formats["A6"], sra3, 2))
	assert.Equal(t, 2, PiecesPerSheet(formats["A4"], sra3, 0))
	assert.Equal(t, 1, PiecesPerSheet(formats["SRA3"], sra3, 0))
	assert.Equal(t, 0, PiecesPerSheet(formats["A2"], sra3, 0))
}

func TestMaterialResolver(t *testing.T) {
	r := NewMaterialResolver(testSnapshot(), usd)

	res, err := r.Resolve("flyers", map[string]any{
		"format":       "A6",
		"paperType":    "Semi-Matte",
		"paperDensity": "150",
	}, 100)
	require.NoError(t, err)

	require.Len(t, res.Lines, 1, "sticker rule is optional and unset")
	line := res.Lines[0]
	assert.Equal(t, KindMaterial, line.Kind)
	assert.Equal(t, "semi-matte 150g/m2", line.Name)
	assert.Equal(t, "sheet", line.Unit)
	assert.Equal(t, "sm150", line.Ref)
	assert.True(t, line.Quantity.Equal(dec("13")), "12 sheets + 1 waste, got %s", line.Quantity)
	assert.Equal(t, "1.56", line.Total.StringFixed(2))

	layout, ok := res.Primary()
	require.True(t, ok)
	assert.Equal(t, Layout{RuleKey: "paper", Format: "A6", Up: 9, Sheets: 12, Waste: 1}, layout)
}

func TestMaterialResolverPrefixedRuleWithOverride(t *testing.T) {
	r := NewMaterialResolver(testSnapshot(), usd)

	res, err := r.Resolve("flyers", map[string]any{
		"format":              "A4",
		"paperType":           "gloss",
		"paperDensity":        300,
		"stickerFormat":       "ROUND50",
		"stickerPaperType":    "vinyl",
		"stickerPaperDensity": 80.0,
	}, 100)
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)

	assert.Equal(t, "gl300", res.Lines[0].Ref)
	assert.True(t, res.Lines[0].Quantity.Equal(dec("53")), "50 sheets + 3 waste")

	assert.Equal(t, "White vinyl", res.Lines[1].Name)
	assert.True(t, res.Lines[1].Quantity.Equal(dec("3")))
	assert.Equal(t, "3.30", res.Lines[1].Total.StringFixed(2))
	assert.Equal(t, 40, res.Layouts[1].Up)
}

func TestMaterialResolverPiecesOverrideIsDeterministic(t *testing.T) {
	snap := catalog.NewBuilder().
		AddMaterialRule(catalog.MaterialRule{
			ProductType:    "labels",
			Key:            "paper",
			PressSheet:     catalog.SheetSize{WidthMM: 320, HeightMM: 450},
			PiecesPerSheet: map[string]int{"a6": 4, "A6": 8, "Round50": 40, "ROUND50": 20},
			Papers: []catalog.Paper{
				{ID: "sm150", Type: "semi-matte", Density: 150, PricePerSheet: dec("0.12"), IsActive: true},
			},
		}).
		Build()
	r := NewMaterialResolver(snap, usd)

	up := func(format string) int {
		res, err := r.Resolve("labels", map[string]any{
			"format": format, "paperType": "semi-matte", "paperDensity": 150,
		}, 100)
		require.NoError(t, err)
		return res.Layouts[0].Up
	}

	for i := 0; i < 50; i++ {
		assert.Equal(t, 4, up("a6"), "exact key wins")
		assert.Equal(t, 8, up("A6"), "exact key wins")
		assert.Equal(t, 20, up("round50"), "first case-insensitive match in key order")
	}
}

func TestMaterialResolverErrors(t *testing.T) {
	r := NewMaterialResolver(testSnapshot(), usd)

	tests := []struct {
		name  string
		specs map[string]any
		want  perrors.Type
		field string
	}{
		{"missing paper type", map[string]any{"format": "A6", "paperDensity": 150}, perrors.TypeMissingSpecification, "paperType"},
		{"blank format", map[string]any{"format": " ", "paperType": "gloss", "paperDensity": 300}, perrors.TypeMissingSpecification, "format"},
		{"unknown format", map[string]any{"format": "A11", "paperType": "gloss", "paperDensity": 300}, perrors.TypeUnsupportedSpecification, "format"},
		{"too large", map[string]any{"format": "A1", "paperType": "gloss", "paperDensity": 300}, perrors.TypeUnsupportedSpecification, "format"},
		{"unknown paper", map[string]any{"format": "A6", "paperType": "kraft", "paperDensity": 300}, perrors.TypeUnsupportedSpecification, "paperType"},
		{"inactive paper", map[string]any{"format": "A6", "paperType": "gloss", "paperDensity": 90}, perrors.TypeUnsupportedSpecification, "paperType"},
		{"bad density", map[string]any{"format": "A6", "paperType": "gloss", "paperDensity": "heavy"}, perrors.TypeUnsupportedSpecification, "paperDensity"},
		{"partial optional rule", map[string]any{"format": "A6", "paperType": "gloss", "paperDensity": 300, "stickerFormat": "round50"}, perrors.TypeMissingSpecification, "stickerPaperType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve("flyers", tt.specs, 100)
			require.Error(t, err)
			e, ok := perrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Type)
			assert.Equal(t, tt.field, e.Context["field"])
		})
	}

	_, err := r.Resolve("flyers", nil, 0)
	assert.True(t, perrors.IsType(err, perrors.TypeInvalidQuantity))
}

func TestMaterialResolverWithoutRules(t *testing.T) {
	res, err := NewMaterialResolver(testSnapshot(), usd).Resolve("posters", map[string]any{"format": "A2"}, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Lines)
	_, ok := res.Primary()
	assert.False(t, ok)
}

func TestNumericSpecs(t *testing.T) {
	got := NumericSpecs(map[string]any{
		"sides":      2,
		"density":    "150",
		"lamination": true,
		"rounded":    false,
		"format":     "A6",
		"weight":     1.5,
		"nothing":    nil,
	})
	assert.Equal(t, map[string]float64{"sides": 2, "density": 150, "lamination": 1, "rounded": 0, "weight": 1.5}, got)
}

func TestMarkupComposition(t *testing.T) {
	p := NewMarkupPolicy(DefaultMarkupConfig(), usd)

	m := p.Apply(dec("1000"), "promo", "wholesale")
	assert.Equal(t, "-145", m.Amount.String(), "1000*0.9*0.95 - 1000")
	assert.Equal(t, "promo", m.Channel)
	assert.Equal(t, "wholesale", m.CustomerType)
	assert.False(t, m.ChannelFallback)
	assert.False(t, m.CustomerFallback)
}

func TestMarkupDefaultsAndAliases(t *testing.T) {
	p := NewMarkupPolicy(DefaultMarkupConfig(), usd)

	tests := []struct {
		channel, customer string
		want              string
		wantChannel       string
		fallback          bool
	}{
		{"", "", "0", "manager", false},
		{"manager", "regular", "0", "manager", false},
		{"online", "", "-5", "online", false},
		{"Urgent", "", "50", "rush", false},
		{"rush", "vip", "35", "rush", false},
		{"telepathy", "", "0", "manager", true},
	}
	for _, tt := range tests {
		m := p.Apply(dec("100"), tt.channel, tt.customer)
		assert.Equal(t, tt.want, m.Amount.String(), "%s/%s", tt.channel, tt.customer)
		assert.Equal(t, tt.wantChannel, m.Channel)
		assert.Equal(t, tt.fallback, m.ChannelFallback)
	}

	m := p.Apply(dec("100"), "promo", "platinum")
	assert.Equal(t, "regular", m.CustomerType)
	assert.True(t, m.CustomerFallback)
	assert.Equal(t, "-10", m.Amount.String())
}

func TestMarkupSurchargeAndRounding(t *testing.T) {
	cfg := MarkupConfig{
		Channels: map[string]ChannelRule{
			"express": {Factor: dec("1.1"), Surcharge: dec("15")},
		},
		Customers: map[string]decimal.Decimal{"vip": dec("0.9")},
	}
	p := NewMarkupPolicy(cfg, usd)

	m := p.Apply(dec("33.33"), "express", "vip")
	// 33.33*1.1*0.9 + 15 - 33.33 = 14.6667
	assert.Equal(t, "14.67", m.Amount.String())

	// defaults are filled in when the config omits them
	m = p.Apply(dec("10"), "", "")
	assert.True(t, m.Amount.IsZero())
}
