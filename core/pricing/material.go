package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"printshop/core/catalog"
	"printshop/core/determinism"
	perrors "printshop/internal/errors"
)

// Named finished formats in millimetres, portrait
var formats = map[string]catalog.SheetSize{
	"A0":   {WidthMM: 841, HeightMM: 1189},
	"A1":   {WidthMM: 594, HeightMM: 841},
	"A2":   {WidthMM: 420, HeightMM: 594},
	"A3":   {WidthMM: 297, HeightMM: 420},
	"A4":   {WidthMM: 210, HeightMM: 297},
	"A5":   {WidthMM: 148, HeightMM: 210},
	"A6":   {WidthMM: 105, HeightMM: 148},
	"A7":   {WidthMM: 74, HeightMM: 105},
	"SRA3": {WidthMM: 320, HeightMM: 450},
	"SRA4": {WidthMM: 225, HeightMM: 320},
	"B3":   {WidthMM: 353, HeightMM: 500},
	"B4":   {WidthMM: 250, HeightMM: 353},
	"B5":   {WidthMM: 176, HeightMM: 250},
	"DL":   {WidthMM: 99, HeightMM: 210},
	"EURO": {WidthMM: 85, HeightMM: 55},
}

// ParseFormat resolves a named format or a custom "<width>x<height>" size in mm
func ParseFormat(s string) (catalog.SheetSize, bool) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if size, ok := formats[name]; ok {
		return size, true
	}
	w, h, ok := strings.Cut(strings.ReplaceAll(name, "×", "X"), "X")
	if !ok {
		return catalog.SheetSize{}, false
	}
	width, err1 := strconv.ParseFloat(strings.TrimSpace(w), 64)
	height, err2 := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err1 != nil || err2 != nil || !finite(width) || !finite(height) || width <= 0 || height <= 0 {
		return catalog.SheetSize{}, false
	}
	return catalog.SheetSize{WidthMM: width, HeightMM: height}, true
}

// PiecesPerSheet counts how many pieces of a format fit on a press sheet,
// trying both orientations. Bleed is added on every edge of the piece.
func PiecesPerSheet(piece, sheet catalog.SheetSize, bleedMM float64) int {
	w := piece.WidthMM + 2*bleedMM
	h := piece.HeightMM + 2*bleedMM
	if w <= 0 || h <= 0 {
		return 0
	}
	fit := func(pw, ph float64) int {
		return int(math.Floor(sheet.WidthMM/pw)) * int(math.Floor(sheet.HeightMM/ph))
	}
	return max(fit(w, h), fit(h, w))
}

// Layout is the press sheet consumption of one material rule
type Layout struct {
	RuleKey string  `json:"rule"`
	Format  string  `json:"format"`
	Up      int     `json:"up"`
	Sheets  float64 `json:"sheets"`
	Waste   float64 `json:"waste"`
}

// MaterialResult holds the material lines of a product and the layout of
// the first resolved rule, which drives the sheets/waste/up formula variables
type MaterialResult struct {
	Lines   []BreakdownLine
	Layouts []Layout
}

// Primary returns the layout of the first resolved rule
func (m MaterialResult) Primary() (Layout, bool) {
	if len(m.Layouts) == 0 {
		return Layout{}, false
	}
	return m.Layouts[0], true
}

// MaterialResolver prices the papers a product consumes
type MaterialResolver struct {
	snap  *catalog.Snapshot
	money Money
}

// NewMaterialResolver creates a material resolver over a snapshot
func NewMaterialResolver(snap *catalog.Snapshot, money Money) *MaterialResolver {
	return &MaterialResolver{snap: snap, money: money}
}

// Resolve computes one material line per applicable rule of productType.
// A rule whose format and paper fields are all absent is skipped unless
// it lists them as required.
func (r *MaterialResolver) Resolve(productType string, specs map[string]any, quantity float64) (MaterialResult, error) {
	var result MaterialResult
	if !finite(quantity) || quantity <= 0 {
		return result, perrors.InvalidQuantity("order quantity", quantity)
	}

	for _, rule := range r.snap.MaterialRules(productType) {
		line, layout, ok, err := r.resolveRule(rule, specs, quantity)
		if err != nil {
			return MaterialResult{}, err
		}
		if !ok {
			continue
		}
		result.Lines = append(result.Lines, line)
		result.Layouts = append(result.Layouts, layout)
	}
	return result, nil
}

func (r *MaterialResolver) resolveRule(rule catalog.MaterialRule, specs map[string]any, quantity float64) (BreakdownLine, Layout, bool, error) {
	fields := []string{"format", "paperType", "paperDensity"}
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := lookupSpec(specs, rule.Field(f))
		if !ok {
			if rule.Requires(f) {
				return BreakdownLine{}, Layout{}, false, perrors.MissingSpecification(rule.Field(f))
			}
			continue
		}
		values[f] = v
	}
	if len(values) == 0 {
		return BreakdownLine{}, Layout{}, false, nil
	}
	for _, f := range fields {
		if _, ok := values[f]; !ok {
			return BreakdownLine{}, Layout{}, false, perrors.MissingSpecification(rule.Field(f))
		}
	}

	formatName := fmt.Sprint(values["format"])
	up, err := imposition(rule, formatName)
	if err != nil {
		return BreakdownLine{}, Layout{}, false, err
	}

	paper, err := findPaper(rule, values["paperType"], values["paperDensity"])
	if err != nil {
		return BreakdownLine{}, Layout{}, false, err
	}
	if !r.money.Accepts(paper.Currency) {
		return BreakdownLine{}, Layout{}, false, perrors.CurrencyMismatch("paper "+paper.ID, paper.Currency, r.money.Currency)
	}

	sheets := math.Ceil(quantity / float64(up))
	waste := math.Ceil(sheets * rule.WastePercent / 100)

	unit := paper.Unit
	if unit == "" {
		unit = "sheet"
	}
	qty := quantityDecimal(sheets + waste)
	line := BreakdownLine{
		Kind:     KindMaterial,
		Name:     paper.DisplayName(),
		Unit:     unit,
		Quantity: qty,
		Rate:     paper.PricePerSheet,
		Total:    r.money.Round(qty.Mul(paper.PricePerSheet)),
		Ref:      paper.ID,
		Outcome:  catalog.Found,
	}
	layout := Layout{RuleKey: rule.Key, Format: formatName, Up: up, Sheets: sheets, Waste: waste}
	return line, layout, true, nil
}

func imposition(rule catalog.MaterialRule, format string) (int, error) {
	field := rule.Field("format")
	if n, ok := piecesOverride(rule.PiecesPerSheet, format); ok {
		if n <= 0 {
			return 0, perrors.UnsupportedSpecification(field, format)
		}
		return n, nil
	}
	size, ok := ParseFormat(format)
	if !ok {
		return 0, perrors.UnsupportedSpecification(field, format)
	}
	up := PiecesPerSheet(size, rule.PressSheet, rule.BleedMM)
	if up <= 0 {
		return 0, perrors.UnsupportedSpecification(field, format).
			WithContext("reason", "format does not fit the press sheet")
	}
	return up, nil
}

// piecesOverride looks up a configured pieces-per-sheet count. An exact key
// wins; otherwise the first case-insensitive match in key order is used.
func piecesOverride(pieces map[string]int, format string) (int, bool) {
	format = strings.TrimSpace(format)
	if n, ok := pieces[format]; ok {
		return n, true
	}
	for _, name := range determinism.SortedKeys(pieces) {
		if strings.EqualFold(strings.TrimSpace(name), format) {
			return pieces[name], true
		}
	}
	return 0, false
}

func findPaper(rule catalog.MaterialRule, paperType, density any) (catalog.Paper, error) {
	typ := strings.TrimSpace(fmt.Sprint(paperType))
	d, ok := toNumber(density)
	if !ok {
		return catalog.Paper{}, perrors.UnsupportedSpecification(rule.Field("paperDensity"), density)
	}
	for _, p := range rule.Papers {
		if p.IsActive && strings.EqualFold(p.Type, typ) && float64(p.Density) == d {
			return p, nil
		}
	}
	return catalog.Paper{}, perrors.UnsupportedSpecification(rule.Field("paperType"), fmt.Sprintf("%s %g", typ, d))
}

func lookupSpec(specs map[string]any, key string) (any, bool) {
	v, ok := specs[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

// NumericSpecs extracts the formula-usable values of a specification:
// numbers, numeric strings and booleans (as 1 or 0).
func NumericSpecs(specs map[string]any) map[string]float64 {
	out := make(map[string]float64, len(specs))
	for k, v := range specs {
		if f, ok := toNumber(v); ok {
			out[k] = f
		}
	}
	return out
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, false
	}
	return f, finite(f)
}
