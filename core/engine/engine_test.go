package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"printshop/core/catalog"
	"printshop/core/pricing"
	perrors "printshop/internal/errors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func flyersCatalog() *catalog.Memory {
	return &catalog.Memory{
		Services: []catalog.Service{
			{ID: "digital", Name: "Digital print", Unit: "sheet", BaseRate: dec("2.0"), Currency: "USD", IsActive: true},
			{ID: "cut", Name: "Cutting", Unit: "cut", BaseRate: dec("0.35"), Currency: "USD", IsActive: true},
		},
		Norms: []catalog.OperationNorm{
			{ID: "n1", ProductType: "flyers", Operation: "printing", ServiceID: "digital", Formula: "ceil(quantity/4)", IsActive: true},
		},
		Materials: []catalog.MaterialRule{{
			ProductType:    "flyers",
			Key:            "paper",
			Name:           "Paper",
			PressSheet:     catalog.SheetSize{WidthMM: 320, HeightMM: 450},
			WastePercent:   5,
			RequiredFields: []string{"format", "paperType", "paperDensity"},
			Papers: []catalog.Paper{
				{ID: "sm150", Type: "semi-matte", Density: 150, PricePerSheet: dec("0.12"), Currency: "USD", IsActive: true},
			},
		}},
	}
}

func flyersRequest() CalculateRequest {
	return CalculateRequest{
		ProductType: "flyers",
		Quantity:    100,
		Specifications: map[string]any{
			"format":       "A6",
			"sides":        1,
			"paperType":    "semi-matte",
			"paperDensity": 150,
		},
	}
}

func assertSubtotalIdentity(t *testing.T, resp *CalculateResponse) {
	t.Helper()
	sum := decimal.Zero
	for _, l := range resp.Materials {
		sum = sum.Add(l.Total)
	}
	for _, l := range resp.Services {
		sum = sum.Add(l.Total)
	}
	assert.True(t, resp.Subtotal.Equal(sum), "subtotal %s != sum of lines %s", resp.Subtotal, sum)
	assert.True(t, resp.Final.Equal(resp.Subtotal.Add(resp.Markup)))
}

func TestCalculateFlyersScenario(t *testing.T) {
	e := New(flyersCatalog(), DefaultConfig())

	resp, err := e.Calculate(context.Background(), flyersRequest())
	require.NoError(t, err)

	require.Len(t, resp.Services, 1)
	svc := resp.Services[0]
	assert.Equal(t, pricing.KindService, svc.Kind)
	assert.Equal(t, "Digital print", svc.Name)
	assert.True(t, svc.Quantity.Equal(dec("25")))
	assert.True(t, svc.Rate.Equal(dec("2.0")))
	assert.True(t, svc.Total.Equal(dec("50")))
	assert.Empty(t, svc.TierID)

	require.Len(t, resp.Materials, 1)
	mat := resp.Materials[0]
	assert.Equal(t, pricing.KindMaterial, mat.Kind)
	assert.True(t, mat.Quantity.Equal(dec("13")))
	assert.True(t, mat.Total.Equal(dec("1.56")))

	assert.True(t, resp.Subtotal.Equal(dec("51.56")))
	assert.True(t, resp.Markup.IsZero())
	assert.True(t, resp.Final.Equal(resp.Subtotal))
	assert.Equal(t, "USD", resp.Currency)
	assertSubtotalIdentity(t, resp)

	assert.Equal(t, "manager", resp.Meta.Channel)
	assert.Equal(t, "regular", resp.Meta.CustomerType)
	assert.Equal(t, catalog.TierBasisConsumed, resp.Meta.TierBasis)
	assert.NotEmpty(t, resp.Meta.SnapshotID)
	require.NotNil(t, resp.Meta.Layout)
	assert.Equal(t, 9, resp.Meta.Layout.Up)
	assert.Equal(t, map[string]float64{
		"quantity": 100, "sides": 1, "paperDensity": 150,
		"sheets": 12, "waste": 1, "up": 9,
	}, resp.Meta.Context)
}

func TestCalculateIsDeterministic(t *testing.T) {
	e := New(flyersCatalog(), DefaultConfig())
	req := flyersRequest()
	req.Channel = "online"
	req.CustomerType = "vip"

	first, err := e.Calculate(context.Background(), req)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*CalculateResponse, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.Calculate(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, first, r)
	}
	assertSubtotalIdentity(t, first)
}

func TestCalculateAppliesMarkup(t *testing.T) {
	e := New(flyersCatalog(), DefaultConfig())
	req := flyersRequest()
	req.Channel = "promo"
	req.CustomerType = "wholesale"

	resp, err := e.Calculate(context.Background(), req)
	require.NoError(t, err)

	// 51.56 * 0.9 * 0.95 - 51.56 = -7.4762
	assert.Equal(t, "-7.48", resp.Markup.String())
	assert.Equal(t, "44.08", resp.Final.String())
	assert.True(t, resp.Meta.ChannelFactor.Equal(dec("0.9")))
	assert.True(t, resp.Meta.CustomerFactor.Equal(dec("0.95")))
	assertSubtotalIdentity(t, resp)
}

func TestCalculateIsAllOrNothing(t *testing.T) {
	mem := flyersCatalog()
	mem.Services = append(mem.Services, catalog.Service{ID: "laminator", Name: "Lamination", Unit: "sheet", BaseRate: dec("1"), IsActive: false})
	mem.Norms = append(mem.Norms, catalog.OperationNorm{ProductType: "flyers", Operation: "lamination", ServiceID: "laminator", Formula: "sheets*sides", IsActive: true})

	resp, err := New(mem, DefaultConfig()).Calculate(context.Background(), flyersRequest())
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.TypeServiceUnavailable))
}

func TestCalculateKeepsZeroLines(t *testing.T) {
	mem := flyersCatalog()
	mem.Norms = append(mem.Norms, catalog.OperationNorm{ProductType: "flyers", Operation: "cutting", ServiceID: "cut", Formula: "max(sides - 1, 0) * sheets", IsActive: true})

	resp, err := New(mem, DefaultConfig()).Calculate(context.Background(), flyersRequest())
	require.NoError(t, err)

	require.Len(t, resp.Services, 2)
	assert.Equal(t, "cutting", resp.Services[0].Ref)
	assert.True(t, resp.Services[0].Total.IsZero())
	assert.Equal(t, "printing", resp.Services[1].Ref)
}

func TestCalculateDerivedFieldsOverrideSpecs(t *testing.T) {
	mem := flyersCatalog()
	mem.Norms[0].Formula = "sheets + waste"

	req := flyersRequest()
	req.Specifications["sheets"] = 1000
	req.Specifications["quantity"] = "5"

	resp, err := New(mem, DefaultConfig()).Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Services[0].Quantity.Equal(dec("13")))
	assert.Equal(t, float64(100), resp.Meta.Context["quantity"])
}

func TestCalculateWithoutMaterialRules(t *testing.T) {
	mem := flyersCatalog()
	mem.Materials = nil
	mem.Norms[0].Formula = "sheets * sides + waste * up"

	req := flyersRequest()
	req.Specifications["sides"] = 2

	resp, err := New(mem, DefaultConfig()).Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Materials)
	assert.NotNil(t, resp.Materials)
	assert.True(t, resp.Services[0].Quantity.Equal(dec("200")))
	assert.Nil(t, resp.Meta.Layout)
}

func TestCalculateRejectsInvalidRequests(t *testing.T) {
	e := New(flyersCatalog(), DefaultConfig())

	tests := []CalculateRequest{
		{ProductType: "", Quantity: 10},
		{ProductType: "  ", Quantity: 10},
		{ProductType: "flyers", Quantity: 0},
		{ProductType: "flyers", Quantity: -3},
	}
	for _, req := range tests {
		_, err := e.Calculate(context.Background(), req)
		assert.True(t, perrors.IsType(err, perrors.TypeInvalidRequest), "%+v", req)
		assert.Equal(t, perrors.ClassUser, perrors.TypeOf(err).Class())
	}
}

func TestCalculateMissingSpecificationIsUserError(t *testing.T) {
	req := flyersRequest()
	delete(req.Specifications, "paperType")

	_, err := New(flyersCatalog(), DefaultConfig()).Calculate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.TypeMissingSpecification))
	assert.Equal(t, perrors.ClassUser, perrors.TypeOf(err).Class())
}

func TestCalculateOrderTierBasis(t *testing.T) {
	mem := flyersCatalog()
	mem.Tiers = []catalog.VolumeTier{
		{ID: "t50", ServiceID: "digital", MinQuantity: 50, Rate: dec("1.5"), IsActive: true},
	}

	resp, err := New(mem, DefaultConfig()).Calculate(context.Background(), flyersRequest())
	require.NoError(t, err)
	assert.Empty(t, resp.Services[0].TierID, "25 consumed sheets stay below the 50 break")

	cfg := DefaultConfig()
	cfg.TierBasis = catalog.TierBasisOrder
	resp, err = New(mem, cfg).Calculate(context.Background(), flyersRequest())
	require.NoError(t, err)
	assert.Equal(t, "t50", resp.Services[0].TierID)
	assert.True(t, resp.Services[0].Total.Equal(dec("37.5")))
	assert.Equal(t, catalog.TierBasisOrder, resp.Meta.TierBasis)
}

type recordingObserver struct {
	mu        sync.Mutex
	calls     []string
	fallbacks map[string]int
}

func (o *recordingObserver) ObserveCalculation(productType, errType string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, productType+":"+errType)
}

func (o *recordingObserver) ObserveFallback(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fallbacks == nil {
		o.fallbacks = make(map[string]int)
	}
	o.fallbacks[kind]++
}

func TestUnknownChannelFailsOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	obs := &recordingObserver{}
	e := New(flyersCatalog(), DefaultConfig(), WithLogger(zap.New(core)), WithObserver(obs))

	req := flyersRequest()
	req.Channel = "carrier-pigeon"

	resp, err := e.Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Markup.IsZero())
	assert.Equal(t, "manager", resp.Meta.Channel)
	require.Len(t, resp.Meta.Warnings, 1)
	assert.Contains(t, resp.Meta.Warnings[0], "carrier-pigeon")

	assert.Equal(t, 1, logs.FilterMessage("unknown channel, using default").Len())
	assert.Equal(t, 1, obs.fallbacks["channel"])
	assert.Equal(t, 1, obs.fallbacks["base_rate"])
	assert.Equal(t, []string{"flyers:"}, obs.calls)
}

type brokenReader struct{ catalog.Memory }

func (brokenReader) ListActiveServices(context.Context) ([]catalog.Service, error) {
	return nil, errors.New("database is locked")
}

func TestCalculateReaderFailureIsInternal(t *testing.T) {
	obs := &recordingObserver{}
	_, err := New(&brokenReader{}, DefaultConfig(), WithObserver(obs)).Calculate(context.Background(), flyersRequest())
	require.Error(t, err)
	assert.Equal(t, perrors.TypeInternal, perrors.TypeOf(err))
	assert.Equal(t, []string{UnknownProductType + ":" + string(perrors.TypeInternal)}, obs.calls)
}

func TestCalculateUnconfiguredProductIsNotFound(t *testing.T) {
	obs := &recordingObserver{}
	e := New(flyersCatalog(), DefaultConfig(), WithObserver(obs))

	req := flyersRequest()
	req.ProductType = "flyer"
	resp, err := e.Calculate(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, perrors.IsType(err, perrors.TypeNotFound))
	assert.Contains(t, err.Error(), "flyer")

	_, err = e.Calculate(context.Background(), CalculateRequest{ProductType: "flyers", Quantity: -1})
	require.Error(t, err)

	assert.Equal(t, []string{
		UnknownProductType + ":" + string(perrors.TypeNotFound),
		UnknownProductType + ":" + string(perrors.TypeInvalidRequest),
	}, obs.calls, "unresolved product types never reach the observer")

	snap, err := catalog.Load(context.Background(), flyersCatalog(), "flyer")
	require.NoError(t, err)
	_, err = e.CalculateWithSnapshot(snap, req)
	assert.True(t, perrors.IsType(err, perrors.TypeNotFound))
}

func TestCalculateWithSnapshot(t *testing.T) {
	snap, err := catalog.Load(context.Background(), flyersCatalog(), "flyers")
	require.NoError(t, err)

	e := New(nil, DefaultConfig())
	resp, err := e.CalculateWithSnapshot(snap, flyersRequest())
	require.NoError(t, err)
	assert.Equal(t, snap.ID(), resp.Meta.SnapshotID)
	assert.True(t, resp.Subtotal.Equal(dec("51.56")))
}

func TestNewFillsBlankConfig(t *testing.T) {
	req := flyersRequest()
	req.Channel = "promo"

	resp, err := New(flyersCatalog(), Config{}).Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "USD", resp.Currency)
	assert.Equal(t, "1.56", resp.Materials[0].Total.String(), "default precision, not whole units")
	assert.Equal(t, "promo", resp.Meta.Channel, "default channels are available")
	assert.Empty(t, resp.Meta.Warnings)
	assert.Equal(t, catalog.TierBasisConsumed, resp.Meta.TierBasis)

	cfg := DefaultConfig()
	cfg.Precision = 0
	resp, err = New(flyersCatalog(), cfg).Calculate(context.Background(), flyersRequest())
	require.NoError(t, err)
	assert.Equal(t, "2", resp.Materials[0].Total.String(), "explicit zero precision rounds to whole units")
}
