package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlecarme/spendsort/internal/cli"
	"github.com/mlecarme/spendsort/internal/ofx"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.ofx> [file.ofx...]",
		Short: "Import transactions from OFX/QFX bank exports",
		Long: `Import parses OFX/QFX exports and stores their transactions.
Accounts are created on first sight, named after the bank's account id.
Re-importing a file is safe: already-known transactions are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	importer := ofx.NewImporter(store, nil)
	scope := currentScope()

	totalImported, totalDuplicates := 0, 0
	for _, path := range args {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}

		result, err := importer.Import(ctx, scope.UserID, file)
		_ = file.Close()
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}

		totalImported += result.Imported
		totalDuplicates += result.Duplicates
		fmt.Printf("%s %s: %d imported, %d duplicates skipped\n",
			cli.SuccessIcon, path, result.Imported, result.Duplicates)
	}

	// Parse the new labels right away and let deterministic rules take the
	// first pass; only what remains goes through the embedding pipeline.
	eng, err := buildEngine(store)
	if err != nil {
		return err
	}
	if _, err := eng.EnsureParsed(ctx, scope); err != nil {
		return err
	}
	ruleResult, err := eng.Rules().Apply(ctx, scope)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Imported %d transactions (%d duplicates skipped), %d categorized by rules",
		totalImported, totalDuplicates, ruleResult.Matched)))
	return nil
}
