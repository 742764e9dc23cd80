// Package cmd - catalog management commands
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"printshop/adapters/hclcatalog"
	"printshop/core/catalog"
	"printshop/db/ingestion"
	"printshop/internal/logging"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog management",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a catalog for errors",
	Long: `Validate an HCL catalog file or directory, or the configured database
when no path is given. Exits non-zero when any error is found; warnings are
reported but do not fail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogValidate,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import an HCL catalog into the database",
	Long: `Import an HCL catalog file or directory into the configured database.

The import runs load, normalize, validate and store; all rows are written in
one transaction. Importing the same content twice is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <product-type>",
	Short: "Show the operations and materials of a product",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogShow,
}

var importDryRun bool

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogShowCmd)

	catalogImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate only, no database writes")
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	var issues []catalog.Issue
	if len(args) == 1 {
		mem, err := hclcatalog.Load(args[0])
		if err != nil {
			return err
		}
		issues = mem.Validate(catalog.DefaultValidationRules())
	} else {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		productTypes, err := store.ProductTypes(ctx)
		if err != nil {
			return err
		}
		issues, err = catalog.ValidateReader(ctx, store, productTypes)
		if err != nil {
			return err
		}
	}

	printIssues(out, issues)
	if catalog.HasErrors(issues) {
		return errors.New("catalog has errors")
	}
	fmt.Fprintln(out, "✓ catalog is valid")
	return nil
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	pipeline := ingestion.NewPipeline(store, logging.Named("ingestion"))
	src := hclcatalog.FileSource{Path: args[0]}

	var result *ingestion.Result
	if importDryRun {
		result, err = pipeline.DryRun(ctx, src)
	} else {
		result, err = pipeline.Import(ctx, src)
	}
	var verr *ingestion.ValidationError
	if errors.As(err, &verr) {
		printIssues(out, verr.Issues)
		return errors.New("catalog has errors, nothing imported")
	}
	if err != nil {
		return err
	}

	printIssues(out, result.Warnings)
	fmt.Fprintf(out, "Status:       %s\n", result.Status)
	fmt.Fprintf(out, "Records:      %d\n", result.Records)
	fmt.Fprintf(out, "Content hash: %s\n", truncateHash(result.ContentHash))
	if result.ImportID != "" {
		fmt.Fprintf(out, "Import ID:    %s\n", result.ImportID)
	}
	return nil
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()
	productType := args[0]

	reader, release, err := openReader(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap, err := catalog.Load(ctx, reader, productType)
	if err != nil {
		return err
	}
	norms := snap.Norms(productType)
	rules := snap.MaterialRules(productType)
	if len(norms) == 0 && len(rules) == 0 {
		return fmt.Errorf("product type %q has no operations or materials", productType)
	}

	fmt.Fprintf(out, "Product:  %s\n", productType)
	fmt.Fprintf(out, "Snapshot: %s\n\n", snap.ID())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tSERVICE\tRATE\tTIERS\tFORMULA")
	for _, n := range norms {
		svc, _ := snap.Service(n.ServiceID)
		fmt.Fprintf(tw, "%s\t%s\t%s %s/%s\t%d\t%s\n",
			n.Operation, n.ServiceID, svc.BaseRate.String(), svc.Currency, svc.Unit,
			len(snap.Tiers(n.ServiceID)), n.Formula)
	}
	tw.Flush()

	for _, r := range rules {
		fmt.Fprintf(out, "\nMaterial %s (press sheet %gx%g mm, waste %g%%)\n",
			r.Key, r.PressSheet.WidthMM, r.PressSheet.HeightMM, r.WastePercent)
		for _, p := range r.Papers {
			if p.IsActive {
				fmt.Fprintf(out, "  %-30s %s %s/sheet\n", p.DisplayName(), p.PricePerSheet.String(), p.Currency)
			}
		}
	}
	return nil
}

func printIssues(w io.Writer, issues []catalog.Issue) {
	for _, i := range issues {
		fmt.Fprintln(w, i.String())
	}
}

func truncateHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "..."
	}
	return hash
}
