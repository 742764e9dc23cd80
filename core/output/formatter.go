// Package output provides output formatting interfaces.
// This package produces human and machine-readable quotes.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"printshop/core/engine"
)

// Format represents output format type
type Format string

const (
	// FormatTable is a human-readable table
	FormatTable Format = "table"

	// FormatJSON is machine-readable JSON
	FormatJSON Format = "json"
)

// Formatter produces output in a specific format
type Formatter interface {
	// Format returns the format type
	Format() Format

	// Render writes a quote
	Render(w io.Writer, quote *Quote) error
}

// Quote is a priced request
type Quote struct {
	Request  engine.CalculateRequest   `json:"request"`
	Response *engine.CalculateResponse `json:"response"`
}

// New returns the formatter for a format name
func New(format string) (Formatter, error) {
	switch Format(strings.ToLower(strings.TrimSpace(format))) {
	case FormatTable, "":
		return TableFormatter{}, nil
	case FormatJSON:
		return JSONFormatter{Indent: "  "}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want table or json)", format)
	}
}

// JSONFormatter writes quotes as JSON
type JSONFormatter struct {
	Indent string
}

// Format returns FormatJSON
func (JSONFormatter) Format() Format { return FormatJSON }

// Render writes the quote
func (f JSONFormatter) Render(w io.Writer, quote *Quote) error {
	enc := json.NewEncoder(w)
	if f.Indent != "" {
		enc.SetIndent("", f.Indent)
	}
	return enc.Encode(quote)
}
