// Package hclcatalog loads pricing catalogs written in HCL.
//
// A catalog file declares services with their volume tiers and products with
// their operations and materials:
//
//	currency = "USD"
//
//	service "digital" {
//	  name      = "Digital print"
//	  unit      = "sheet"
//	  base_rate = 2.00
//
//	  tier {
//	    min_quantity = 100
//	    rate         = 1.75
//	  }
//	}
//
//	product "flyers" {
//	  operation "printing" {
//	    service = "digital"
//	    formula = "ceil(quantity / up) * sides"
//	  }
//
//	  material "paper" {
//	    press_sheet   = "SRA3"
//	    waste_percent = 5
//	    required      = ["format", "paperType", "paperDensity"]
//
//	    paper "sm150" {
//	      type            = "semi-matte"
//	      density         = 150
//	      price_per_sheet = 0.12
//	    }
//	  }
//	}
package hclcatalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"printshop/core/catalog"
	"printshop/core/pricing"
	perrors "printshop/internal/errors"
)

type fileSchema struct {
	Currency string         `hcl:"currency,optional"`
	Services []serviceBlock `hcl:"service,block"`
	Products []productBlock `hcl:"product,block"`
}

type serviceBlock struct {
	ID       string      `hcl:"id,label"`
	Name     string      `hcl:"name"`
	Unit     string      `hcl:"unit"`
	BaseRate cty.Value   `hcl:"base_rate"`
	Currency string      `hcl:"currency,optional"`
	Active   *bool       `hcl:"active,optional"`
	Tiers    []tierBlock `hcl:"tier,block"`
}

type tierBlock struct {
	ID          string    `hcl:"id,optional"`
	MinQuantity float64   `hcl:"min_quantity"`
	Rate        cty.Value `hcl:"rate"`
	Active      *bool     `hcl:"active,optional"`
}

type productBlock struct {
	Type       string           `hcl:"type,label"`
	TierBasis  string           `hcl:"tier_basis,optional"`
	Operations []operationBlock `hcl:"operation,block"`
	Materials  []materialBlock  `hcl:"material,block"`
}

type operationBlock struct {
	Name    string `hcl:"name,label"`
	ID      string `hcl:"id,optional"`
	Service string `hcl:"service"`
	Formula string `hcl:"formula"`
	Active  *bool  `hcl:"active,optional"`
}

type materialBlock struct {
	Key            string         `hcl:"key,label"`
	Name           string         `hcl:"name,optional"`
	FieldPrefix    string         `hcl:"field_prefix,optional"`
	PressSheet     string         `hcl:"press_sheet"`
	BleedMM        float64        `hcl:"bleed_mm,optional"`
	WastePercent   float64        `hcl:"waste_percent,optional"`
	Required       []string       `hcl:"required,optional"`
	PiecesPerSheet map[string]int `hcl:"pieces_per_sheet,optional"`
	Papers         []paperBlock   `hcl:"paper,block"`
}

type paperBlock struct {
	ID            string    `hcl:"id,label"`
	Type          string    `hcl:"type"`
	Density       int       `hcl:"density"`
	Name          string    `hcl:"name,optional"`
	Unit          string    `hcl:"unit,optional"`
	PricePerSheet cty.Value `hcl:"price_per_sheet"`
	Currency      string    `hcl:"currency,optional"`
	Active        *bool     `hcl:"active,optional"`
}

// LoadFile parses a catalog file
func LoadFile(path string) (*catalog.Memory, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Config("read catalog file", err)
	}
	return Parse(src, path)
}

// LoadDir parses and merges every *.hcl file of a directory in name order
func LoadDir(dir string) (*catalog.Memory, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, perrors.Config("list catalog files", err)
	}
	if len(files) == 0 {
		return nil, perrors.Config(fmt.Sprintf("no *.hcl files in %s", dir), nil)
	}
	sort.Strings(files)

	merged := &catalog.Memory{}
	for _, f := range files {
		mem, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		merged.Services = append(merged.Services, mem.Services...)
		merged.Tiers = append(merged.Tiers, mem.Tiers...)
		merged.Norms = append(merged.Norms, mem.Norms...)
		merged.Materials = append(merged.Materials, mem.Materials...)
		merged.Policies = append(merged.Policies, mem.Policies...)
	}
	return merged, nil
}

// Load reads a catalog file or directory
func Load(path string) (*catalog.Memory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, perrors.Config("open catalog", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// Parse decodes catalog source. filename is used in diagnostics only.
func Parse(src []byte, filename string) (*catalog.Memory, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diagError(filename, diags)
	}

	var schema fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &schema); diags.HasErrors() {
		return nil, diagError(filename, diags)
	}

	mem, err := schema.toMemory()
	if err != nil {
		return nil, perrors.Config(filename, err)
	}
	return mem, nil
}

func diagError(filename string, diags hcl.Diagnostics) error {
	var msgs []string
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		loc := filename
		if d.Subject != nil {
			loc = fmt.Sprintf("%s:%d", filename, d.Subject.Start.Line)
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s: %s", loc, d.Summary, d.Detail))
	}
	return perrors.Config("parse catalog: "+strings.Join(msgs, "; "), diags)
}

func active(b *bool) bool {
	return b == nil || *b
}

func (f *fileSchema) toMemory() (*catalog.Memory, error) {
	mem := &catalog.Memory{}
	currency := func(c string) string {
		if c == "" {
			return f.Currency
		}
		return c
	}

	for _, s := range f.Services {
		base, err := decimalValue(s.BaseRate, "service "+s.ID+" base_rate")
		if err != nil {
			return nil, err
		}
		mem.Services = append(mem.Services, catalog.Service{
			ID:       s.ID,
			Name:     s.Name,
			Unit:     s.Unit,
			BaseRate: base,
			Currency: currency(s.Currency),
			IsActive: active(s.Active),
		})
		for i, t := range s.Tiers {
			rate, err := decimalValue(t.Rate, fmt.Sprintf("service %s tier %d rate", s.ID, i))
			if err != nil {
				return nil, err
			}
			id := t.ID
			if id == "" {
				id = fmt.Sprintf("%s-%g", s.ID, t.MinQuantity)
			}
			mem.Tiers = append(mem.Tiers, catalog.VolumeTier{
				ID:          id,
				ServiceID:   s.ID,
				MinQuantity: t.MinQuantity,
				Rate:        rate,
				IsActive:    active(t.Active),
			})
		}
	}

	for _, p := range f.Products {
		if p.TierBasis != "" {
			basis, err := catalog.ParseTierBasis(p.TierBasis)
			if err != nil {
				return nil, fmt.Errorf("product %s: %w", p.Type, err)
			}
			mem.Policies = append(mem.Policies, catalog.ProductPolicy{ProductType: p.Type, TierBasis: basis})
		}

		for _, op := range p.Operations {
			id := op.ID
			if id == "" {
				id = p.Type + "/" + op.Name
			}
			mem.Norms = append(mem.Norms, catalog.OperationNorm{
				ID:          id,
				ProductType: p.Type,
				Operation:   op.Name,
				ServiceID:   op.Service,
				Formula:     op.Formula,
				IsActive:    active(op.Active),
			})
		}

		for _, m := range p.Materials {
			sheet, ok := pricing.ParseFormat(m.PressSheet)
			if !ok {
				return nil, fmt.Errorf("product %s material %s: unknown press sheet %q", p.Type, m.Key, m.PressSheet)
			}
			rule := catalog.MaterialRule{
				ProductType:    p.Type,
				Key:            m.Key,
				Name:           m.Name,
				FieldPrefix:    m.FieldPrefix,
				PressSheet:     sheet,
				BleedMM:        m.BleedMM,
				WastePercent:   m.WastePercent,
				RequiredFields: m.Required,
				PiecesPerSheet: m.PiecesPerSheet,
			}
			for _, pb := range m.Papers {
				price, err := decimalValue(pb.PricePerSheet, "paper "+pb.ID+" price_per_sheet")
				if err != nil {
					return nil, err
				}
				rule.Papers = append(rule.Papers, catalog.Paper{
					ID:            pb.ID,
					Type:          pb.Type,
					Density:       pb.Density,
					Name:          pb.Name,
					Unit:          pb.Unit,
					PricePerSheet: price,
					Currency:      currency(pb.Currency),
					IsActive:      active(pb.Active),
				})
			}
			mem.Materials = append(mem.Materials, rule)
		}
	}
	return mem, nil
}

// FileSource reads a catalog file or directory for import
type FileSource struct {
	Path string
}

// Name returns the catalog path
func (s FileSource) Name() string {
	return s.Path
}

// Load parses the catalog
func (s FileSource) Load(ctx context.Context) (*catalog.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(s.Path)
}
