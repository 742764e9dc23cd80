// Package ingestion - Catalog import pipeline
// Strictly separated from pricing: load → normalize → validate → store.
// An import replaces the whole live catalog. Imports are idempotent: a
// catalog whose content hash matches the latest import is skipped.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"printshop/core/catalog"
	"printshop/core/determinism"
	"printshop/db"
)

// Source provides a full catalog to import
type Source interface {
	// Name identifies the source in import records, e.g. a file path
	Name() string

	// Load reads the catalog
	Load(ctx context.Context) (*catalog.Memory, error)
}

// Status is the outcome of an import
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped" // same content already imported
	StatusDryRun    Status = "dry_run" // validated, nothing written
)

// Result describes a finished import
type Result struct {
	ImportID    string
	ContentHash string
	Status      Status
	Records     int
	Warnings    []catalog.Issue
}

// ValidationError is returned when the catalog has blocking issues
type ValidationError struct {
	Issues []catalog.Issue
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, i := range e.Issues {
		if i.Severity == catalog.SeverityError {
			msgs = append(msgs, i.String())
		}
	}
	return fmt.Sprintf("catalog has %d error(s): %s", len(msgs), strings.Join(msgs, "; "))
}

// recordNamespace derives stable IDs for records imported without one
var recordNamespace = uuid.MustParse("6f1c2b0e-4f7a-5d3e-9a61-0c8b7e2d4a19")

// Pipeline imports catalogs into a store
type Pipeline struct {
	store  *db.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline creates an import pipeline
func NewPipeline(store *db.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, logger: logger, now: time.Now}
}

// Import runs the full import for a source
func (p *Pipeline) Import(ctx context.Context, src Source) (*Result, error) {
	return p.run(ctx, src, false)
}

// DryRun loads, validates and hashes a source without writing anything
func (p *Pipeline) DryRun(ctx context.Context, src Source) (*Result, error) {
	return p.run(ctx, src, true)
}

func (p *Pipeline) run(ctx context.Context, src Source, dryRun bool) (*Result, error) {
	mem, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.Name(), err)
	}

	Normalize(mem)

	issues := mem.Validate(catalog.DefaultValidationRules())
	if catalog.HasErrors(issues) {
		return nil, &ValidationError{Issues: issues}
	}

	hash, err := ContentHash(mem)
	if err != nil {
		return nil, err
	}
	result := &Result{ContentHash: hash, Records: countRecords(mem), Warnings: issues}

	existing, err := p.store.LatestImport(ctx)
	if err != nil {
		return nil, fmt.Errorf("check existing import: %w", err)
	}
	if existing != nil && existing.ContentHash == hash {
		p.logger.Info("catalog already imported",
			zap.String("source", src.Name()),
			zap.String("import_id", existing.ID),
			zap.String("hash", hash))
		result.ImportID = existing.ID
		result.Status = StatusSkipped
		return result, nil
	}
	if dryRun {
		result.Status = StatusDryRun
		return result, nil
	}

	now := p.now().UTC()
	rec := db.ImportRecord{
		ID:          uuid.NewString(),
		ContentHash: hash,
		Source:      src.Name(),
		Records:     result.Records,
		ImportedAt:  now,
	}
	err = p.store.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.RetireCatalog(ctx); err != nil {
			return err
		}
		for _, svc := range mem.Services {
			if svc.CreatedAt.IsZero() {
				svc.CreatedAt = now
			}
			if err := tx.UpsertService(ctx, svc); err != nil {
				return err
			}
		}
		for _, t := range mem.Tiers {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if err := tx.UpsertTier(ctx, t); err != nil {
				return err
			}
		}
		for _, n := range mem.Norms {
			if err := tx.UpsertNorm(ctx, n); err != nil {
				return err
			}
		}
		for _, r := range mem.Materials {
			if err := tx.ReplaceMaterialRule(ctx, r); err != nil {
				return err
			}
		}
		for _, pol := range mem.Policies {
			if err := tx.UpsertPolicy(ctx, pol); err != nil {
				return err
			}
		}
		return tx.RecordImport(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("store catalog: %w", err)
	}

	p.logger.Info("catalog imported",
		zap.String("source", src.Name()),
		zap.String("import_id", rec.ID),
		zap.Int("records", rec.Records),
		zap.Int("warnings", len(issues)))

	result.ImportID = rec.ID
	result.Status = StatusCompleted
	return result, nil
}

// Normalize canonicalizes a catalog in place: trims identifiers, upper-cases
// currencies and assigns stable IDs to records imported without one.
func Normalize(mem *catalog.Memory) {
	for i := range mem.Services {
		s := &mem.Services[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Currency = normalizeCurrency(s.Currency)
	}
	for i := range mem.Tiers {
		t := &mem.Tiers[i]
		t.ServiceID = strings.TrimSpace(t.ServiceID)
		if t.ID == "" {
			t.ID = stableID("tier", t.ServiceID, fmt.Sprintf("%g", t.MinQuantity), t.Rate.String())
		}
	}
	for i := range mem.Norms {
		n := &mem.Norms[i]
		n.ProductType = strings.TrimSpace(n.ProductType)
		n.Operation = strings.TrimSpace(n.Operation)
		n.ServiceID = strings.TrimSpace(n.ServiceID)
		if n.ID == "" {
			n.ID = stableID("norm", n.ProductType, n.Operation)
		}
	}
	for i := range mem.Materials {
		r := &mem.Materials[i]
		r.ProductType = strings.TrimSpace(r.ProductType)
		r.Key = strings.TrimSpace(r.Key)
		for j := range r.Papers {
			p := &r.Papers[j]
			p.Currency = normalizeCurrency(p.Currency)
			if p.ID == "" {
				p.ID = stableID("paper", r.ProductType, r.Key, p.Type, fmt.Sprint(p.Density))
			}
		}
	}
	for i := range mem.Policies {
		mem.Policies[i].ProductType = strings.TrimSpace(mem.Policies[i].ProductType)
	}
}

// ContentHash hashes the catalog content independent of record order
func ContentHash(mem *catalog.Memory) (string, error) {
	sorted := *mem
	sorted.Services = slices.Clone(mem.Services)
	slices.SortFunc(sorted.Services, func(a, b catalog.Service) int { return strings.Compare(a.ID, b.ID) })
	sorted.Tiers = slices.Clone(mem.Tiers)
	slices.SortFunc(sorted.Tiers, func(a, b catalog.VolumeTier) int { return strings.Compare(a.ID, b.ID) })
	sorted.Norms = slices.Clone(mem.Norms)
	slices.SortFunc(sorted.Norms, func(a, b catalog.OperationNorm) int { return strings.Compare(a.ID, b.ID) })
	sorted.Materials = slices.Clone(mem.Materials)
	slices.SortFunc(sorted.Materials, func(a, b catalog.MaterialRule) int {
		return strings.Compare(a.ProductType+"/"+a.Key, b.ProductType+"/"+b.Key)
	})
	sorted.Policies = slices.Clone(mem.Policies)
	slices.SortFunc(sorted.Policies, func(a, b catalog.ProductPolicy) int {
		return strings.Compare(a.ProductType, b.ProductType)
	})

	// encoding/json writes map keys sorted, so the encoding is canonical
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("encode catalog: %w", err)
	}
	return determinism.ComputeHash(data).Hex(), nil
}

func countRecords(mem *catalog.Memory) int {
	n := len(mem.Services) + len(mem.Tiers) + len(mem.Norms) + len(mem.Policies)
	for _, r := range mem.Materials {
		n += 1 + len(r.Papers)
	}
	return n
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func stableID(kind string, parts ...string) string {
	return uuid.NewSHA1(recordNamespace, []byte(kind+"|"+strings.Join(parts, "|"))).String()
}
