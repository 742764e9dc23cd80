package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"printshop/core/catalog"
	"printshop/core/determinism"
)

// Tx is a catalog write transaction
type Tx struct {
	store *Store
	tx    *sql.Tx
}

// WithTx runs fn in a transaction, committing when fn returns nil
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{store: s, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, t.store.rebind(query), args...)
	return err
}

// RetireCatalog clears the live catalog ahead of a full reload. Services,
// tiers and norms are deactivated, so rows stay available to history and
// foreign keys; material rules, papers and policies are deleted. Records
// written afterwards in the same transaction become the active catalog.
func (t *Tx) RetireCatalog(ctx context.Context) error {
	for _, q := range []struct{ what, query string }{
		{"operation norms", `UPDATE operation_norms SET is_active = ? WHERE is_active = ?`},
		{"volume tiers", `UPDATE volume_tiers SET is_active = ? WHERE is_active = ?`},
		{"services", `UPDATE services SET is_active = ? WHERE is_active = ?`},
	} {
		if err := t.exec(ctx, q.query, false, true); err != nil {
			return fmt.Errorf("retire %s: %w", q.what, err)
		}
	}
	for _, table := range []string{"papers", "material_pieces", "material_rules", "product_policies"} {
		if err := t.exec(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// UpsertService inserts or replaces a service by ID
func (t *Tx) UpsertService(ctx context.Context, svc catalog.Service) error {
	err := t.exec(ctx, `
		INSERT INTO services (id, name, unit, base_rate, currency, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, unit = excluded.unit, base_rate = excluded.base_rate,
			currency = excluded.currency, is_active = excluded.is_active`,
		svc.ID, svc.Name, svc.Unit, svc.BaseRate.String(), svc.Currency, svc.IsActive, formatTime(svc.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", svc.ID, err)
	}
	return nil
}

// UpsertTier inserts or replaces a volume tier by ID
func (t *Tx) UpsertTier(ctx context.Context, tier catalog.VolumeTier) error {
	err := t.exec(ctx, `
		INSERT INTO volume_tiers (id, service_id, min_quantity, rate, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			service_id = excluded.service_id, min_quantity = excluded.min_quantity,
			rate = excluded.rate, is_active = excluded.is_active`,
		tier.ID, tier.ServiceID, tier.MinQuantity, tier.Rate.String(), tier.IsActive, formatTime(tier.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert volume tier %s: %w", tier.ID, err)
	}
	return nil
}

// UpsertNorm inserts or replaces an operation norm. An active norm first
// deactivates any other active norm of the same product operation.
func (t *Tx) UpsertNorm(ctx context.Context, n catalog.OperationNorm) error {
	if n.IsActive {
		if err := t.exec(ctx, `
			UPDATE operation_norms SET is_active = ?
			WHERE product_type = ? AND operation = ? AND id <> ?`,
			false, n.ProductType, n.Operation, n.ID); err != nil {
			return fmt.Errorf("deactivate norms %s/%s: %w", n.ProductType, n.Operation, err)
		}
	}
	err := t.exec(ctx, `
		INSERT INTO operation_norms (id, product_type, operation, service_id, formula, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			product_type = excluded.product_type, operation = excluded.operation,
			service_id = excluded.service_id, formula = excluded.formula, is_active = excluded.is_active`,
		n.ID, n.ProductType, n.Operation, n.ServiceID, n.Formula, n.IsActive)
	if err != nil {
		return fmt.Errorf("upsert operation norm %s: %w", n.ID, err)
	}
	return nil
}

// ReplaceMaterialRule stores a material rule with its formats and papers,
// replacing any previous version of the rule
func (t *Tx) ReplaceMaterialRule(ctx context.Context, r catalog.MaterialRule) error {
	for _, q := range []string{
		`DELETE FROM papers WHERE product_type = ? AND rule_key = ?`,
		`DELETE FROM material_pieces WHERE product_type = ? AND rule_key = ?`,
		`DELETE FROM material_rules WHERE product_type = ? AND rule_key = ?`,
	} {
		if err := t.exec(ctx, q, r.ProductType, r.Key); err != nil {
			return fmt.Errorf("clear material rule %s/%s: %w", r.ProductType, r.Key, err)
		}
	}

	if err := t.exec(ctx, `
		INSERT INTO material_rules (product_type, rule_key, name, field_prefix, press_width_mm,
			press_height_mm, bleed_mm, waste_percent, required_fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProductType, r.Key, r.Name, r.FieldPrefix, r.PressSheet.WidthMM, r.PressSheet.HeightMM,
		r.BleedMM, r.WastePercent, strings.Join(r.RequiredFields, ",")); err != nil {
		return fmt.Errorf("insert material rule %s/%s: %w", r.ProductType, r.Key, err)
	}

	var perr error
	determinism.RangeMapSorted(r.PiecesPerSheet, func(format string, pieces int) bool {
		perr = t.exec(ctx, `
			INSERT INTO material_pieces (product_type, rule_key, format, pieces) VALUES (?, ?, ?, ?)`,
			r.ProductType, r.Key, format, pieces)
		return perr == nil
	})
	if perr != nil {
		return fmt.Errorf("insert material pieces %s/%s: %w", r.ProductType, r.Key, perr)
	}

	for _, p := range r.Papers {
		if err := t.exec(ctx, `
			INSERT INTO papers (id, product_type, rule_key, paper_type, density, name, unit,
				price_per_sheet, currency, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				product_type = excluded.product_type, rule_key = excluded.rule_key,
				paper_type = excluded.paper_type, density = excluded.density, name = excluded.name,
				unit = excluded.unit, price_per_sheet = excluded.price_per_sheet,
				currency = excluded.currency, is_active = excluded.is_active`,
			p.ID, r.ProductType, r.Key, p.Type, p.Density, p.Name, p.Unit,
			p.PricePerSheet.String(), p.Currency, p.IsActive); err != nil {
			return fmt.Errorf("insert paper %s: %w", p.ID, err)
		}
	}
	return nil
}

// UpsertPolicy stores a product policy
func (t *Tx) UpsertPolicy(ctx context.Context, p catalog.ProductPolicy) error {
	err := t.exec(ctx, `
		INSERT INTO product_policies (product_type, tier_basis) VALUES (?, ?)
		ON CONFLICT (product_type) DO UPDATE SET tier_basis = excluded.tier_basis`,
		p.ProductType, string(p.TierBasis))
	if err != nil {
		return fmt.Errorf("upsert product policy %s: %w", p.ProductType, err)
	}
	return nil
}

// ImportRecord is a completed catalog import
type ImportRecord struct {
	ID          string
	ContentHash string
	Source      string
	Records     int
	ImportedAt  time.Time
}

// RecordImport stores an import marker. Re-importing content seen before
// moves its marker forward, so the latest import always names the live
// catalog.
func (t *Tx) RecordImport(ctx context.Context, rec ImportRecord) error {
	err := t.exec(ctx, `
		INSERT INTO catalog_imports (id, content_hash, source, records, imported_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			id = excluded.id, source = excluded.source, records = excluded.records,
			imported_at = excluded.imported_at`,
		rec.ID, rec.ContentHash, rec.Source, rec.Records, formatTime(rec.ImportedAt))
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

// FindImport returns the import with the given content hash, or nil
func (s *Store) FindImport(ctx context.Context, contentHash string) (*ImportRecord, error) {
	return s.scanImport(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, content_hash, source, records, imported_at
		FROM catalog_imports WHERE content_hash = ?`), contentHash))
}

// LatestImport returns the most recent import, or nil before the first one
func (s *Store) LatestImport(ctx context.Context) (*ImportRecord, error) {
	return s.scanImport(s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, source, records, imported_at
		FROM catalog_imports ORDER BY imported_at DESC, id DESC LIMIT 1`))
}

func (s *Store) scanImport(row *sql.Row) (*ImportRecord, error) {
	var rec ImportRecord
	var at string
	err := row.Scan(&rec.ID, &rec.ContentHash, &rec.Source, &rec.Records, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query catalog import: %w", err)
	}
	if rec.ImportedAt, err = parseTime(at); err != nil {
		return nil, err
	}
	return &rec, nil
}
