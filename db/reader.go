package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"printshop/core/catalog"
)

var _ catalog.Reader = (*Store)(nil)

// ListActiveServices implements catalog.Reader
func (s *Store) ListActiveServices(ctx context.Context) ([]catalog.Service, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, name, unit, base_rate, currency, is_active, created_at
		FROM services WHERE is_active = ? ORDER BY id`), true)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var out []catalog.Service
	for rows.Next() {
		var svc catalog.Service
		var created string
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Unit, &svc.BaseRate, &svc.Currency, &svc.IsActive, &created); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		if svc.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.ID, err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// ListActiveVolumeTiers implements catalog.Reader
func (s *Store) ListActiveVolumeTiers(ctx context.Context, serviceID string) ([]catalog.VolumeTier, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, service_id, min_quantity, rate, is_active, created_at
		FROM volume_tiers WHERE service_id = ? AND is_active = ?
		ORDER BY min_quantity, created_at, id`), serviceID, true)
	if err != nil {
		return nil, fmt.Errorf("query volume tiers: %w", err)
	}
	defer rows.Close()

	var out []catalog.VolumeTier
	for rows.Next() {
		var t catalog.VolumeTier
		var created string
		if err := rows.Scan(&t.ID, &t.ServiceID, &t.MinQuantity, &t.Rate, &t.IsActive, &created); err != nil {
			return nil, fmt.Errorf("scan volume tier: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListActiveOperationNorms implements catalog.Reader
func (s *Store) ListActiveOperationNorms(ctx context.Context, productType string) ([]catalog.OperationNorm, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, product_type, operation, service_id, formula, is_active
		FROM operation_norms WHERE product_type = ? AND is_active = ?
		ORDER BY operation`), productType, true)
	if err != nil {
		return nil, fmt.Errorf("query operation norms: %w", err)
	}
	defer rows.Close()

	var out []catalog.OperationNorm
	for rows.Next() {
		var n catalog.OperationNorm
		if err := rows.Scan(&n.ID, &n.ProductType, &n.Operation, &n.ServiceID, &n.Formula, &n.IsActive); err != nil {
			return nil, fmt.Errorf("scan operation norm: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ResolveMaterialRules implements catalog.Reader
func (s *Store) ResolveMaterialRules(ctx context.Context, productType string) ([]catalog.MaterialRule, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT rule_key, name, field_prefix, press_width_mm, press_height_mm,
		       bleed_mm, waste_percent, required_fields
		FROM material_rules WHERE product_type = ? ORDER BY rule_key`), productType)
	if err != nil {
		return nil, fmt.Errorf("query material rules: %w", err)
	}

	var rules []catalog.MaterialRule
	for rows.Next() {
		r := catalog.MaterialRule{ProductType: productType}
		var required string
		if err := rows.Scan(&r.Key, &r.Name, &r.FieldPrefix, &r.PressSheet.WidthMM, &r.PressSheet.HeightMM,
			&r.BleedMM, &r.WastePercent, &required); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan material rule: %w", err)
		}
		r.RequiredFields = splitFields(required)
		rules = append(rules, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rules {
		if rules[i].PiecesPerSheet, err = s.piecesPerSheet(ctx, productType, rules[i].Key); err != nil {
			return nil, err
		}
		if rules[i].Papers, err = s.papers(ctx, productType, rules[i].Key); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (s *Store) piecesPerSheet(ctx context.Context, productType, key string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT format, pieces FROM material_pieces
		WHERE product_type = ? AND rule_key = ? ORDER BY format`), productType, key)
	if err != nil {
		return nil, fmt.Errorf("query material pieces: %w", err)
	}
	defer rows.Close()

	var out map[string]int
	for rows.Next() {
		var format string
		var pieces int
		if err := rows.Scan(&format, &pieces); err != nil {
			return nil, fmt.Errorf("scan material pieces: %w", err)
		}
		if out == nil {
			out = make(map[string]int)
		}
		out[format] = pieces
	}
	return out, rows.Err()
}

func (s *Store) papers(ctx context.Context, productType, key string) ([]catalog.Paper, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, paper_type, density, name, unit, price_per_sheet, currency, is_active
		FROM papers WHERE product_type = ? AND rule_key = ? ORDER BY paper_type, density, id`), productType, key)
	if err != nil {
		return nil, fmt.Errorf("query papers: %w", err)
	}
	defer rows.Close()

	var out []catalog.Paper
	for rows.Next() {
		var p catalog.Paper
		if err := rows.Scan(&p.ID, &p.Type, &p.Density, &p.Name, &p.Unit, &p.PricePerSheet, &p.Currency, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProductPolicy implements catalog.Reader
func (s *Store) ProductPolicy(ctx context.Context, productType string) (catalog.ProductPolicy, bool, error) {
	var basis string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT tier_basis FROM product_policies WHERE product_type = ?`), productType).Scan(&basis)
	if err == sql.ErrNoRows {
		return catalog.ProductPolicy{}, false, nil
	}
	if err != nil {
		return catalog.ProductPolicy{}, false, fmt.Errorf("query product policy: %w", err)
	}
	tb, err := catalog.ParseTierBasis(basis)
	if err != nil {
		return catalog.ProductPolicy{}, false, fmt.Errorf("product policy %s: %w", productType, err)
	}
	return catalog.ProductPolicy{ProductType: productType, TierBasis: tb}, true, nil
}

// ProductTypes returns every product type with norms or material rules
func (s *Store) ProductTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_type FROM operation_norms
		UNION
		SELECT product_type FROM material_rules
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query product types: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pt string
		if err := rows.Scan(&pt); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// fixed-width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
