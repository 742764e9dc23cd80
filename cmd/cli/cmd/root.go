// Package cmd provides the CLI commands for printshop.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"printshop/adapters/hclcatalog"
	"printshop/core/catalog"
	"printshop/db"
	"printshop/internal/config"
	"printshop/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile     string
	catalogPath string
	verbose     bool

	appConfig = config.Default()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "printshop",
	Short: "Price print jobs from a service catalog",
	Long: `printshop resolves the price of a print job from a catalog of services,
volume tiers, operation norms and materials.

The catalog is read from the configured database, or from an HCL catalog
file when --catalog is given.

Examples:
  printshop calculate flyers -q 100 --spec format=A6 --spec paperType=semi-matte --spec paperDensity=150
  printshop catalog validate ./catalog.hcl
  printshop catalog import ./catalog.hcl
  printshop migrate`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "HCL catalog file or directory to read instead of the database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	appConfig = cfg

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "printshop version %s\n", Version)
	},
}

// openStore opens the configured catalog database
func openStore(ctx context.Context) (*db.Store, error) {
	return db.Open(ctx, appConfig.Database.Driver, appConfig.Database.DSN)
}

// openReader returns the catalog to price from and a release function
func openReader(ctx context.Context) (catalog.Reader, func(), error) {
	path := catalogPath
	if path == "" {
		path = appConfig.Database.Catalog
	}
	if path != "" {
		mem, err := hclcatalog.Load(path)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
