package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kerrokantasi/api/internal/importer"
)

var importOpts importer.Options

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import hearing documents from JSON or YAML files",
	Long: `Import hearing documents. A file holds one hearing, a list of hearings or
an object with a "hearings" list. Hearings are matched to existing ones by id,
then by slug; existing hearings are skipped unless --force or --patch is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importOpts.Force, "force", false, "Replace hearings that already exist")
	importCmd.Flags().BoolVar(&importOpts.Patch, "patch", false, "Merge top-level fields into existing hearings, keeping their sections")
	importCmd.Flags().BoolVar(&importOpts.Nuke, "nuke", false, "Delete every existing hearing before importing")
	importCmd.Flags().StringVar(&importOpts.Organization, "organization", "", "Organization that owns created hearings")
	importCmd.MarkFlagsMutuallyExclusive("force", "patch")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	imp := importer.New(e.service, e.store, e.logger)
	opts := importOpts
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs, err := importer.Decode(path, data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if i > 0 {
			// nuke once, before the first file
			opts.Nuke = false
		}
		report, err := imp.Import(ctx, docs, opts)
		printImportReport(path, report)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func printImportReport(path string, report importer.Report) {
	fmt.Println(path)
	if report.Deleted > 0 {
		fmt.Printf("  %s %d existing hearings\n", color.New(color.FgRed).Sprint("DELETED"), report.Deleted)
	}
	for _, id := range report.Created {
		fmt.Printf("  %s %s\n", color.New(color.FgGreen).Sprint("CREATED"), id)
	}
	for _, id := range report.Updated {
		fmt.Printf("  %s %s\n", color.New(color.FgBlue).Sprint("UPDATED"), id)
	}
	for _, id := range report.Skipped {
		fmt.Printf("  %s %s (exists; use --force or --patch)\n", color.New(color.FgYellow).Sprint("SKIPPED"), id)
	}
}
