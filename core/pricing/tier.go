package pricing

import (
	"github.com/shopspring/decimal"

	"printshop/core/catalog"
	perrors "printshop/internal/errors"
)

// RateResolution is the unit rate chosen for a service and quantity
type RateResolution struct {
	Rate    decimal.Decimal
	TierID  string
	Outcome catalog.Outcome // Found when a tier applied, Fallback for the base rate
}

// TierResolver picks volume tier rates from a snapshot
type TierResolver struct {
	snap *catalog.Snapshot
}

// NewTierResolver creates a tier resolver over a snapshot
func NewTierResolver(snap *catalog.Snapshot) *TierResolver {
	return &TierResolver{snap: snap}
}

// ResolveRate returns the rate of the active tier with the greatest
// MinQuantity not above quantity. Equal MinQuantity resolves to the most
// recently created tier. With no qualifying tier the service base rate applies.
func (r *TierResolver) ResolveRate(serviceID string, quantity float64) (RateResolution, error) {
	if !finite(quantity) || quantity <= 0 {
		return RateResolution{}, perrors.InvalidQuantity("tier lookup quantity", quantity).
			WithContext("service_id", serviceID)
	}

	svc, outcome := r.snap.Service(serviceID)
	if outcome == catalog.NotConfigured {
		return RateResolution{}, perrors.ServiceUnavailable(serviceID)
	}

	// Tiers are sorted ascending, so the last qualifying one is the most
	// specific and, among equals, the newest.
	tiers := r.snap.Tiers(serviceID)
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].MinQuantity <= quantity {
			return RateResolution{Rate: tiers[i].Rate, TierID: tiers[i].ID, Outcome: catalog.Found}, nil
		}
	}
	return RateResolution{Rate: svc.BaseRate, Outcome: catalog.Fallback}, nil
}
