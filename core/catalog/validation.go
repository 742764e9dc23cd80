// Package catalog - Catalog validation
// Checks a catalog source for records the engine would refuse or misprice.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"printshop/core/determinism"
	"printshop/core/expression"
)

// Severity grades a validation issue
type Severity string

const (
	// SeverityError marks a record the engine cannot price with
	SeverityError Severity = "error"
	// SeverityWarning marks an anomaly that still prices deterministically
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding
type Issue struct {
	Severity Severity `json:"severity"`
	Record   string   `json:"record"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Record, i.Message)
}

// ValidationRule is a catalog validation rule
type ValidationRule func(*Memory) []Issue

// DefaultValidationRules returns the standard validation rules
func DefaultValidationRules() []ValidationRule {
	return []ValidationRule{
		validateServices,
		validateTiers,
		validateNorms,
		validateMaterialRules,
	}
}

// Validate checks a catalog against validation rules
func (m *Memory) Validate(rules []ValidationRule) []Issue {
	var issues []Issue
	for _, rule := range rules {
		issues = append(issues, rule(m)...)
	}
	return issues
}

// HasErrors reports whether any issue is an error
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func errorf(record, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Record: record, Message: fmt.Sprintf(format, args...)}
}

func warnf(record, format string, args ...any) Issue {
	return Issue{Severity: SeverityWarning, Record: record, Message: fmt.Sprintf(format, args...)}
}

func validateServices(m *Memory) []Issue {
	var issues []Issue
	seen := make(map[string]bool)
	for _, s := range m.Services {
		rec := "service " + s.ID
		if s.ID == "" {
			issues = append(issues, errorf("service", "empty id"))
			continue
		}
		if seen[s.ID] {
			issues = append(issues, errorf(rec, "duplicate id"))
		}
		seen[s.ID] = true
		if s.BaseRate.IsNegative() {
			issues = append(issues, errorf(rec, "negative base rate %s", s.BaseRate))
		}
		if s.Currency == "" {
			issues = append(issues, warnf(rec, "no currency, engine default applies"))
		}
	}
	return issues
}

func validateTiers(m *Memory) []Issue {
	var issues []Issue
	services := m.serviceIndex()
	type tierKey struct {
		service string
		min     float64
	}
	seen := make(map[tierKey]string)
	for _, t := range m.Tiers {
		rec := "tier " + t.ID
		if _, ok := services[t.ServiceID]; !ok {
			issues = append(issues, errorf(rec, "unknown service %q", t.ServiceID))
		}
		if t.MinQuantity < 0 {
			issues = append(issues, errorf(rec, "negative min quantity %g", t.MinQuantity))
		}
		if t.Rate.IsNegative() {
			issues = append(issues, errorf(rec, "negative rate %s", t.Rate))
		}
		if !t.IsActive {
			continue
		}
		k := tierKey{t.ServiceID, t.MinQuantity}
		if other, dup := seen[k]; dup {
			issues = append(issues, warnf(rec, "same min quantity %g as tier %s, newest wins", t.MinQuantity, other))
		}
		seen[k] = t.ID
	}
	return issues
}

func validateNorms(m *Memory) []Issue {
	var issues []Issue
	services := m.serviceIndex()
	seen := make(map[normKey]bool)
	for _, n := range m.Norms {
		rec := fmt.Sprintf("norm %s/%s", n.ProductType, n.Operation)
		if n.ProductType == "" || n.Operation == "" {
			issues = append(issues, errorf(rec, "product type and operation are required"))
		}
		svc, ok := services[n.ServiceID]
		switch {
		case !ok:
			issues = append(issues, errorf(rec, "unknown service %q", n.ServiceID))
		case !svc.IsActive && n.IsActive:
			issues = append(issues, warnf(rec, "service %q is inactive", n.ServiceID))
		}
		if _, err := expression.Parse(n.Formula); err != nil {
			issues = append(issues, errorf(rec, "formula %q: %v", n.Formula, err))
		}
		if !n.IsActive {
			continue
		}
		k := normKey{n.ProductType, n.Operation}
		if seen[k] {
			issues = append(issues, errorf(rec, "duplicate active norm"))
		}
		seen[k] = true
	}
	return issues
}

func validateMaterialRules(m *Memory) []Issue {
	var issues []Issue
	for _, r := range m.Materials {
		rec := fmt.Sprintf("material %s/%s", r.ProductType, r.Key)
		if r.Key == "" {
			issues = append(issues, errorf(rec, "empty key"))
		}
		if r.PressSheet.WidthMM <= 0 || r.PressSheet.HeightMM <= 0 {
			issues = append(issues, errorf(rec, "press sheet must have positive dimensions"))
		}
		if r.BleedMM < 0 {
			issues = append(issues, errorf(rec, "negative bleed %g", r.BleedMM))
		}
		if r.WastePercent < 0 || r.WastePercent > 100 {
			issues = append(issues, errorf(rec, "waste percent %g outside 0..100", r.WastePercent))
		}
		folded := make(map[string]string, len(r.PiecesPerSheet))
		for _, format := range determinism.SortedKeys(r.PiecesPerSheet) {
			if r.PiecesPerSheet[format] <= 0 {
				issues = append(issues, errorf(rec, "pieces per sheet for %s must be positive", format))
			}
			key := strings.ToLower(strings.TrimSpace(format))
			if prev, ok := folded[key]; ok {
				issues = append(issues, errorf(rec, "pieces per sheet formats %q and %q differ only in case", prev, format))
				continue
			}
			folded[key] = format
		}
		if len(r.Papers) == 0 {
			issues = append(issues, warnf(rec, "no papers configured"))
		}
		for _, p := range r.Papers {
			if p.PricePerSheet.IsNegative() {
				issues = append(issues, errorf(rec, "paper %s has negative price", p.DisplayName()))
			}
			if strings.TrimSpace(p.Type) == "" {
				issues = append(issues, errorf(rec, "paper %s has no type", p.ID))
			}
		}
	}
	return issues
}

func (m *Memory) serviceIndex() map[string]Service {
	out := make(map[string]Service, len(m.Services))
	for _, s := range m.Services {
		out[s.ID] = s
	}
	return out
}

// ValidateReader loads the given product types from r and validates the result.
func ValidateReader(ctx context.Context, r Reader, productTypes []string) ([]Issue, error) {
	mem, err := Collect(ctx, r, productTypes)
	if err != nil {
		return nil, err
	}
	return mem.Validate(DefaultValidationRules()), nil
}

// Collect copies the active records of the given product types into a Memory
func Collect(ctx context.Context, r Reader, productTypes []string) (*Memory, error) {
	mem := &Memory{}
	services, err := r.ListActiveServices(ctx)
	if err != nil {
		return nil, err
	}
	mem.Services = services

	tiersLoaded := make(map[string]bool)
	for _, pt := range productTypes {
		norms, err := r.ListActiveOperationNorms(ctx, pt)
		if err != nil {
			return nil, err
		}
		mem.Norms = append(mem.Norms, norms...)
		for _, n := range norms {
			if tiersLoaded[n.ServiceID] {
				continue
			}
			tiersLoaded[n.ServiceID] = true
			tiers, err := r.ListActiveVolumeTiers(ctx, n.ServiceID)
			if err != nil {
				return nil, err
			}
			mem.Tiers = append(mem.Tiers, tiers...)
		}
		rules, err := r.ResolveMaterialRules(ctx, pt)
		if err != nil {
			return nil, err
		}
		mem.Materials = append(mem.Materials, rules...)
		if p, ok, err := r.ProductPolicy(ctx, pt); err != nil {
			return nil, err
		} else if ok {
			mem.Policies = append(mem.Policies, p)
		}
	}
	return mem, nil
}
