package pricing

import (
	"printshop/core/catalog"
	"printshop/core/expression"
	perrors "printshop/internal/errors"
)

// NormResolver turns an operation norm into a service line
type NormResolver struct {
	snap  *catalog.Snapshot
	tiers *TierResolver
	basis catalog.TierBasis
	money Money
}

// NewNormResolver creates a norm resolver. basis is the deployment default;
// a product policy in the snapshot overrides it.
func NewNormResolver(snap *catalog.Snapshot, basis catalog.TierBasis, money Money) *NormResolver {
	if basis == "" {
		basis = catalog.TierBasisConsumed
	}
	return &NormResolver{
		snap:  snap,
		tiers: NewTierResolver(snap),
		basis: basis,
		money: money,
	}
}

// TierBasis returns the effective tier basis of a product type
func (r *NormResolver) TierBasis(productType string) catalog.TierBasis {
	if p, outcome := r.snap.Policy(productType); outcome == catalog.Found && p.TierBasis != "" {
		return p.TierBasis
	}
	return r.basis
}

// Resolve prices one operation of a product. The formula is evaluated against
// ctx to get the consumed service quantity; orderQuantity is used for tier
// lookup only when the product's tier basis is "order".
func (r *NormResolver) Resolve(productType, operation string, ctx expression.Context, orderQuantity float64) (BreakdownLine, error) {
	norm, outcome := r.snap.Norm(productType, operation)
	if outcome == catalog.NotConfigured {
		return BreakdownLine{}, perrors.OperationNotConfigured(productType, operation)
	}

	svc, outcome := r.snap.Service(norm.ServiceID)
	if outcome == catalog.NotConfigured {
		return BreakdownLine{}, perrors.ServiceUnavailable(norm.ServiceID).WithContext("operation", operation)
	}
	if !r.money.Accepts(svc.Currency) {
		return BreakdownLine{}, perrors.CurrencyMismatch("service "+svc.ID, svc.Currency, r.money.Currency)
	}

	formula, err := r.snap.Formula(norm)
	if err != nil {
		return BreakdownLine{}, withOperation(err, operation)
	}
	consumed, err := formula.Eval(ctx)
	if err != nil {
		return BreakdownLine{}, withOperation(err, operation)
	}
	if !finite(consumed) || consumed < 0 {
		return BreakdownLine{}, perrors.InvalidQuantity("consumed quantity of "+operation, consumed).
			WithContext("operation", operation)
	}

	lookup := consumed
	if r.TierBasis(productType) == catalog.TierBasisOrder {
		lookup = orderQuantity
	}

	var rate RateResolution
	if lookup == 0 {
		// Nothing consumed: price a zero line at the base rate
		rate = RateResolution{Rate: svc.BaseRate, Outcome: catalog.Fallback}
	} else if rate, err = r.tiers.ResolveRate(svc.ID, lookup); err != nil {
		return BreakdownLine{}, withOperation(err, operation)
	}

	qty := quantityDecimal(consumed)
	return BreakdownLine{
		Kind:     KindService,
		Name:     svc.Name,
		Unit:     svc.Unit,
		Quantity: qty,
		Rate:     rate.Rate,
		Total:    r.money.Round(qty.Mul(rate.Rate)),
		Ref:      operation,
		TierID:   rate.TierID,
		Outcome:  rate.Outcome,
	}, nil
}

func withOperation(err error, operation string) error {
	if e, ok := perrors.As(err); ok {
		return e.With("operation", operation)
	}
	return err
}
