package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"printshop/core/pricing"
)

const tableWidth = 73

// TableFormatter renders a boxed breakdown for terminals
type TableFormatter struct{}

// Format returns FormatTable
func (TableFormatter) Format() Format { return FormatTable }

// Render writes the quote
func (TableFormatter) Render(w io.Writer, quote *Quote) error {
	resp := quote.Response
	t := &tableWriter{w: w}

	t.rule("┌", "┐")
	t.centered(fmt.Sprintf("QUOTE: %s x %s", quote.Request.ProductType, formatQuantity(quote.Request.Quantity)))
	t.rule("├", "┤")

	if len(resp.Materials) > 0 {
		t.row("MATERIALS", "")
		t.lines(resp.Materials, resp.Currency)
	}
	if len(resp.Services) > 0 {
		t.row("SERVICES", "")
		t.lines(resp.Services, resp.Currency)
	}

	t.rule("├", "┤")
	t.row("SUBTOTAL", money(resp.Subtotal, resp.Currency))
	t.row(fmt.Sprintf("MARKUP (%s, %s)", resp.Meta.Channel, resp.Meta.CustomerType), money(resp.Markup, resp.Currency))
	t.row("TOTAL", money(resp.Final, resp.Currency))
	t.rule("└", "┘")

	if l := resp.Meta.Layout; l != nil {
		t.printf("\nLayout: %s, %d up, %s sheets + %s waste\n", l.Format, l.Up, formatQuantity(l.Sheets), formatQuantity(l.Waste))
	}
	t.printf("Tier basis: %s\n", resp.Meta.TierBasis)
	t.printf("Catalog snapshot: %s\n", resp.Meta.SnapshotID)
	for _, warning := range resp.Meta.Warnings {
		t.printf("Warning: %s\n", warning)
	}
	return t.err
}

// tableWriter keeps the first write error
type tableWriter struct {
	w   io.Writer
	err error
}

func (t *tableWriter) printf(format string, args ...interface{}) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *tableWriter) rule(left, right string) {
	t.printf("%s%s%s\n", left, strings.Repeat("─", tableWidth), right)
}

func (t *tableWriter) centered(s string) {
	s = truncate(s, tableWidth-2)
	pad := tableWidth - len([]rune(s))
	t.printf("│%s%s%s│\n", strings.Repeat(" ", pad/2), s, strings.Repeat(" ", pad-pad/2))
}

func (t *tableWriter) row(label, value string) {
	t.printf("│ %-50s %20s │\n", truncate(label, 50), value)
}

func (t *tableWriter) lines(lines []pricing.BreakdownLine, currency string) {
	for _, l := range lines {
		label := fmt.Sprintf("%s: %s %s x %s", l.Name, l.Quantity.String(), l.Unit, l.Rate.String())
		t.printf("│   └─ %-46s %20s │\n", truncate(label, 46), money(l.Total, currency))
	}
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

func formatQuantity(q float64) string {
	return decimal.NewFromFloat(q).String()
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
