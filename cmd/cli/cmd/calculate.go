// Package cmd - calculate command
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"printshop/core/engine"
	"printshop/core/output"
	"printshop/internal/logging"
)

var (
	calcQuantity     float64
	calcChannel      string
	calcCustomerType string
	calcSpecs        []string
	calcSpecsJSON    string
	calcFormat       string
)

// calculateCmd represents the calculate command
var calculateCmd = &cobra.Command{
	Use:   "calculate <product-type>",
	Short: "Calculate the price of a print job",
	Long: `Resolve materials, operations, volume tiers and markup for a product and
print an itemized quote.

Specifications are given as key=value pairs or as a JSON object; numeric
values also become formula variables.

Examples:
  printshop calculate flyers -q 100 --spec format=A6 --spec sides=2 \
      --spec paperType=semi-matte --spec paperDensity=150
  printshop calculate cards -q 500 --channel rush --customer vip --format json
  printshop calculate flyers -q 100 --specs '{"format":"A5","paperType":"gloss","paperDensity":170}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCalculate,
}

func init() {
	calculateCmd.Flags().Float64VarP(&calcQuantity, "quantity", "q", 0, "order quantity [REQUIRED]")
	calculateCmd.Flags().StringVar(&calcChannel, "channel", "", "sales channel (manager, online, rush, promo)")
	calculateCmd.Flags().StringVar(&calcCustomerType, "customer", "", "customer type (regular, vip, wholesale)")
	calculateCmd.Flags().StringArrayVarP(&calcSpecs, "spec", "s", nil, "specification key=value, repeatable")
	calculateCmd.Flags().StringVar(&calcSpecsJSON, "specs", "", "specifications as a JSON object")
	calculateCmd.Flags().StringVarP(&calcFormat, "format", "f", "", "output format (table, json)")
	calculateCmd.MarkFlagRequired("quantity")

	rootCmd.AddCommand(calculateCmd)
}

func runCalculate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	specs, err := parseSpecs(calcSpecsJSON, calcSpecs)
	if err != nil {
		return err
	}

	format := calcFormat
	if format == "" {
		format = appConfig.Output.DefaultFormat
	}
	formatter, err := output.New(format)
	if err != nil {
		return err
	}

	reader, release, err := openReader(ctx)
	if err != nil {
		return err
	}
	defer release()

	eng := engine.New(reader, appConfig.EngineConfig(), engine.WithLogger(logging.Named("engine")))
	req := engine.CalculateRequest{
		ProductType:    args[0],
		Quantity:       calcQuantity,
		Channel:        calcChannel,
		CustomerType:   calcCustomerType,
		Specifications: specs,
	}
	resp, err := eng.Calculate(ctx, req)
	if err != nil {
		return err
	}
	return formatter.Render(cmd.OutOrStdout(), &output.Quote{Request: req, Response: resp})
}

// parseSpecs merges a JSON object with key=value pairs; pairs win
func parseSpecs(jsonSpecs string, pairs []string) (map[string]any, error) {
	specs := make(map[string]any)
	if strings.TrimSpace(jsonSpecs) != "" {
		dec := json.NewDecoder(strings.NewReader(jsonSpecs))
		dec.UseNumber()
		if err := dec.Decode(&specs); err != nil {
			return nil, fmt.Errorf("--specs must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --spec %q, want key=value", pair)
		}
		specs[key] = strings.TrimSpace(value)
	}
	return specs, nil
}
