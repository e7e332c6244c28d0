package main

import (
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mlecarme/spendsort/internal/cli"
	"github.com/mlecarme/spendsort/internal/common"
)

func embeddingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Manage transaction embeddings",
	}
	cmd.AddCommand(embeddingsComputeCmd())
	return cmd
}

func embeddingsComputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compute",
		Short: "Compute vectors for transactions that have none",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, err := buildEngine(store)
			if err != nil {
				return err
			}

			scope := currentScope()
			if _, err := eng.EnsureParsed(ctx, scope); err != nil {
				return err
			}

			var bar *progressbar.ProgressBar
			count, err := eng.EnsureEmbeddings(ctx, scope, func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetDescription("Computing embeddings"),
						progressbar.OptionShowCount())
				}
				_ = bar.Set(done)
			})
			if err != nil {
				if errors.Is(err, common.ErrProviderUnavailable) {
					return common.NewUserError("embedding service is unreachable; check embedding.base_url and that Ollama is running", err)
				}
				return err
			}
			if bar != nil {
				_ = bar.Finish()
				fmt.Println()
			}

			if count == 0 {
				fmt.Println(cli.SubtleStyle.Render("All transactions already embedded"))
				return nil
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Computed %d embeddings", count)))
			return nil
		},
	}
}
