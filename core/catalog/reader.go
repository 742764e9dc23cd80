package catalog

import (
	"context"
	"slices"

	perrors "printshop/internal/errors"
)

// Reader is the read-only configuration surface the engine depends on.
// Implementations own persistence and serialize admin writes.
type Reader interface {
	// ListActiveServices returns all active services
	ListActiveServices(ctx context.Context) ([]Service, error)

	// ListActiveVolumeTiers returns the active tiers of a service
	ListActiveVolumeTiers(ctx context.Context, serviceID string) ([]VolumeTier, error)

	// ListActiveOperationNorms returns the active norms of a product type
	ListActiveOperationNorms(ctx context.Context, productType string) ([]OperationNorm, error)

	// ResolveMaterialRules returns the material rules of a product type
	ResolveMaterialRules(ctx context.Context, productType string) ([]MaterialRule, error)

	// ProductPolicy returns the product policy and whether one is configured
	ProductPolicy(ctx context.Context, productType string) (ProductPolicy, bool, error)
}

// Load reads everything one calculation for productType needs into a sealed
// snapshot. Tiers are read only for services referenced by the product's norms.
func Load(ctx context.Context, r Reader, productType string) (*Snapshot, error) {
	b := NewBuilder()

	services, err := r.ListActiveServices(ctx)
	if err != nil {
		return nil, perrors.Internal("list active services", err)
	}
	for _, svc := range services {
		b.AddService(svc)
	}

	norms, err := r.ListActiveOperationNorms(ctx, productType)
	if err != nil {
		return nil, perrors.Internal("list operation norms", err)
	}
	loaded := make(map[string]bool)
	for _, n := range norms {
		b.AddNorm(n)
		if loaded[n.ServiceID] {
			continue
		}
		loaded[n.ServiceID] = true
		tiers, err := r.ListActiveVolumeTiers(ctx, n.ServiceID)
		if err != nil {
			return nil, perrors.Internal("list volume tiers", err).WithContext("service_id", n.ServiceID)
		}
		for _, t := range tiers {
			b.AddTier(t)
		}
	}

	rules, err := r.ResolveMaterialRules(ctx, productType)
	if err != nil {
		return nil, perrors.Internal("resolve material rules", err)
	}
	for _, rule := range rules {
		b.AddMaterialRule(rule)
	}

	policy, ok, err := r.ProductPolicy(ctx, productType)
	if err != nil {
		return nil, perrors.Internal("read product policy", err)
	}
	if ok {
		b.SetPolicy(policy)
	}

	return b.Build(), nil
}

// Memory is an in-process Reader over fixed records. It is read-only after
// construction and safe for concurrent use.
type Memory struct {
	Services  []Service
	Tiers     []VolumeTier
	Norms     []OperationNorm
	Materials []MaterialRule
	Policies  []ProductPolicy
}

// ListActiveServices implements Reader
func (m *Memory) ListActiveServices(ctx context.Context) ([]Service, error) {
	var out []Service
	for _, s := range m.Services {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListActiveVolumeTiers implements Reader
func (m *Memory) ListActiveVolumeTiers(ctx context.Context, serviceID string) ([]VolumeTier, error) {
	var out []VolumeTier
	for _, t := range m.Tiers {
		if t.ServiceID == serviceID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListActiveOperationNorms implements Reader
func (m *Memory) ListActiveOperationNorms(ctx context.Context, productType string) ([]OperationNorm, error) {
	var out []OperationNorm
	for _, n := range m.Norms {
		if n.ProductType == productType && n.IsActive {
			out = append(out, n)
		}
	}
	return out, nil
}

// ResolveMaterialRules implements Reader
func (m *Memory) ResolveMaterialRules(ctx context.Context, productType string) ([]MaterialRule, error) {
	var out []MaterialRule
	for _, r := range m.Materials {
		if r.ProductType == productType {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

// ProductPolicy implements Reader
func (m *Memory) ProductPolicy(ctx context.Context, productType string) (ProductPolicy, bool, error) {
	for _, p := range m.Policies {
		if p.ProductType == productType {
			return p, true, nil
		}
	}
	return ProductPolicy{}, false, nil
}

// ProductTypes returns every product type that has norms or material rules
func (m *Memory) ProductTypes() []string {
	set := make(map[string]bool)
	for _, n := range m.Norms {
		set[n.ProductType] = true
	}
	for _, r := range m.Materials {
		set[r.ProductType] = true
	}
	out := make([]string, 0, len(set))
	for pt := range set {
		out = append(out, pt)
	}
	slices.Sort(out)
	return out
}
