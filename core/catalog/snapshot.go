package catalog

import (
	"cmp"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"time"

	"printshop/core/determinism"
	"printshop/core/expression"
)

// SnapshotID uniquely identifies a catalog snapshot by content
type SnapshotID string

// Outcome is the explicit result of a catalog lookup
type Outcome int

const (
	// NotConfigured means no usable record exists
	NotConfigured Outcome = iota
	// Found means a matching active record was returned
	Found
	// Fallback means a default value stands in for a missing record
	Fallback
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Fallback:
		return "fallback"
	default:
		return "not_configured"
	}
}

// Snapshot is IMMUTABLE after Build.
// It is the view of the catalog one calculation runs against.
type Snapshot struct {
	id          SnapshotID
	contentHash determinism.ContentHash

	services map[string]Service
	tiers    map[string][]VolumeTier // by service, sorted by MinQuantity
	norms    map[normKey]OperationNorm
	formulas map[normKey]compiledFormula
	rules    map[string][]MaterialRule // by product type, sorted by Key
	policies map[string]ProductPolicy
}

type normKey struct {
	productType string
	operation   string
}

type compiledFormula struct {
	source  string
	formula *expression.Formula
	err     error
}

// ID returns the content-derived snapshot ID
func (s *Snapshot) ID() SnapshotID {
	return s.id
}

// ContentHash returns the hash over every record in the snapshot
func (s *Snapshot) ContentHash() determinism.ContentHash {
	return s.contentHash
}

// Service looks up an active service
func (s *Snapshot) Service(id string) (Service, Outcome) {
	svc, ok := s.services[id]
	if !ok || !svc.IsActive {
		return Service{}, NotConfigured
	}
	return svc, Found
}

// Services returns every active service ordered by ID
func (s *Snapshot) Services() []Service {
	out := make([]Service, 0, len(s.services))
	for _, id := range determinism.SortedKeys(s.services) {
		if svc := s.services[id]; svc.IsActive {
			out = append(out, svc)
		}
	}
	return out
}

// Tiers returns the active tiers of a service ordered by MinQuantity,
// then CreatedAt, then ID
func (s *Snapshot) Tiers(serviceID string) []VolumeTier {
	return slices.Clone(s.tiers[serviceID])
}

// Norm looks up the active norm for a product operation
func (s *Snapshot) Norm(productType, operation string) (OperationNorm, Outcome) {
	n, ok := s.norms[normKey{productType, operation}]
	if !ok || !n.IsActive {
		return OperationNorm{}, NotConfigured
	}
	return n, Found
}

// Norms returns the active norms of a product type ordered by operation
func (s *Snapshot) Norms(productType string) []OperationNorm {
	var out []OperationNorm
	for k, n := range s.norms {
		if k.productType == productType && n.IsActive {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b OperationNorm) int { return cmp.Compare(a.Operation, b.Operation) })
	return out
}

// Formula returns the compiled formula of a norm, or its parse error
func (s *Snapshot) Formula(norm OperationNorm) (*expression.Formula, error) {
	c, ok := s.formulas[normKey{norm.ProductType, norm.Operation}]
	if !ok || c.source != norm.Formula {
		return expression.Parse(norm.Formula)
	}
	return c.formula, c.err
}

// MaterialRules returns the material rules of a product type ordered by key
func (s *Snapshot) MaterialRules(productType string) []MaterialRule {
	rules := s.rules[productType]
	out := make([]MaterialRule, len(rules))
	for i, r := range rules {
		out[i] = r.clone()
	}
	return out
}

// Policy returns the product policy when one is configured
func (s *Snapshot) Policy(productType string) (ProductPolicy, Outcome) {
	p, ok := s.policies[productType]
	if !ok {
		return ProductPolicy{}, NotConfigured
	}
	return p, Found
}

// Builder assembles a Snapshot
type Builder struct {
	services []Service
	tiers    []VolumeTier
	norms    []OperationNorm
	rules    []MaterialRule
	policies []ProductPolicy
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// AddService adds a service
func (b *Builder) AddService(svc Service) *Builder {
	b.services = append(b.services, svc)
	return b
}

// AddTier adds a volume tier
func (b *Builder) AddTier(t VolumeTier) *Builder {
	b.tiers = append(b.tiers, t)
	return b
}

// AddNorm adds an operation norm
func (b *Builder) AddNorm(n OperationNorm) *Builder {
	b.norms = append(b.norms, n)
	return b
}

// AddMaterialRule adds a material rule
func (b *Builder) AddMaterialRule(r MaterialRule) *Builder {
	b.rules = append(b.rules, r.clone())
	return b
}

// SetPolicy sets a product policy
func (b *Builder) SetPolicy(p ProductPolicy) *Builder {
	b.policies = append(b.policies, p)
	return b
}

// Build creates an immutable snapshot. Later duplicates of a service ID or
// of a (product type, operation) pair replace earlier ones.
func (b *Builder) Build() *Snapshot {
	snap := &Snapshot{
		services: make(map[string]Service, len(b.services)),
		tiers:    make(map[string][]VolumeTier),
		norms:    make(map[normKey]OperationNorm, len(b.norms)),
		formulas: make(map[normKey]compiledFormula, len(b.norms)),
		rules:    make(map[string][]MaterialRule),
		policies: make(map[string]ProductPolicy, len(b.policies)),
	}

	for _, svc := range b.services {
		snap.services[svc.ID] = svc
	}

	for _, t := range b.tiers {
		if t.IsActive {
			snap.tiers[t.ServiceID] = append(snap.tiers[t.ServiceID], t)
		}
	}
	for id := range snap.tiers {
		slices.SortStableFunc(snap.tiers[id], compareTiers)
	}

	for _, n := range b.norms {
		snap.norms[normKey{n.ProductType, n.Operation}] = n
	}
	for k, n := range snap.norms {
		f, err := expression.Parse(n.Formula)
		snap.formulas[k] = compiledFormula{source: n.Formula, formula: f, err: err}
	}

	for _, r := range b.rules {
		snap.rules[r.ProductType] = append(snap.rules[r.ProductType], r)
	}
	for pt := range snap.rules {
		slices.SortStableFunc(snap.rules[pt], func(a, b MaterialRule) int { return cmp.Compare(a.Key, b.Key) })
	}

	for _, p := range b.policies {
		snap.policies[p.ProductType] = p
	}

	snap.contentHash = snap.computeHash()
	snap.id = SnapshotID(hex.EncodeToString(snap.contentHash[:8]))
	return snap
}

// compareTiers orders tiers so that, scanning from the end, the first tier
// with MinQuantity <= q is the most specific and most recently created one.
func compareTiers(a, b VolumeTier) int {
	if c := cmp.Compare(a.MinQuantity, b.MinQuantity); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *Snapshot) computeHash() determinism.ContentHash {
	h := determinism.NewHasher("catalog")
	for _, id := range determinism.SortedKeys(s.services) {
		svc := s.services[id]
		h.String(svc.ID).String(svc.Name).String(svc.Unit).Decimal(svc.BaseRate).String(svc.Currency).Bool(svc.IsActive)
	}
	for _, id := range determinism.SortedKeys(s.tiers) {
		for _, t := range s.tiers[id] {
			h.String(t.ID).String(t.ServiceID).String(formatFloat(t.MinQuantity)).Decimal(t.Rate).
				String(t.CreatedAt.UTC().Format(time.RFC3339Nano))
		}
	}
	keys := make([]normKey, 0, len(s.norms))
	for k := range s.norms {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b normKey) int {
		if c := cmp.Compare(a.productType, b.productType); c != 0 {
			return c
		}
		return cmp.Compare(a.operation, b.operation)
	})
	for _, k := range keys {
		n := s.norms[k]
		h.String(n.ID).String(n.ProductType).String(n.Operation).String(n.ServiceID).String(n.Formula).Bool(n.IsActive)
	}
	for _, pt := range determinism.SortedKeys(s.rules) {
		for _, r := range s.rules[pt] {
			h.String(r.ProductType).String(r.Key).String(r.Name).String(r.FieldPrefix).
				String(formatFloat(r.PressSheet.WidthMM)).String(formatFloat(r.PressSheet.HeightMM)).
				String(formatFloat(r.BleedMM)).String(formatFloat(r.WastePercent))
			for _, f := range r.RequiredFields {
				h.String(f)
			}
			for _, f := range determinism.SortedKeys(r.PiecesPerSheet) {
				h.String(f).String(strconv.Itoa(r.PiecesPerSheet[f]))
			}
			for _, p := range r.Papers {
				h.String(p.ID).String(p.Type).String(strconv.Itoa(p.Density)).String(p.Name).
					Decimal(p.PricePerSheet).String(p.Currency).Bool(p.IsActive)
			}
		}
	}
	for _, pt := range determinism.SortedKeys(s.policies) {
		h.String(pt).String(string(s.policies[pt].TierBasis))
	}
	return h.Sum()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// String returns a short description for logs
func (s *Snapshot) String() string {
	return fmt.Sprintf("catalog %s (%d services, %d norms)", s.id, len(s.services), len(s.norms))
}
