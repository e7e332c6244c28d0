package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mlecarme/spendsort/internal/cli"
	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/engine"
	"github.com/mlecarme/spendsort/internal/model"
)

func proposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Manage the classification proposal",
	}
	cmd.AddCommand(proposeRecalculateCmd())
	cmd.AddCommand(proposeShowCmd())
	cmd.AddCommand(proposeAcceptCmd())
	cmd.AddCommand(proposeSkipCmd())
	cmd.AddCommand(proposeSplitCmd())
	return cmd
}

func proposeRecalculateCmd() *cobra.Command {
	var threshold float64
	var minSize int

	cmd := &cobra.Command{
		Use:     "recalculate",
		Aliases: []string{"recalc"},
		Short:   "Rebuild the proposal from uncategorized transactions",
		Long: `Recalculate parses and embeds anything new, clusters the uncategorized
transactions by label similarity, and replaces the current proposal.
Pending decisions on the old proposal are discarded.`,
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

			var bar *progressbar.ProgressBar
			proposal, err := eng.Recalculate(ctx, currentScope(), engine.RecalculateOptions{
				DistanceThreshold: threshold,
				MinClusterSize:    minSize,
				Progress: func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription("Computing embeddings"),
							progressbar.OptionShowCount())
					}
					_ = bar.Set(done)
				},
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

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Proposal rebuilt: %d clusters, %d transactions unclustered of %d uncategorized",
				len(proposal.Clusters), proposal.UnclusteredCount, proposal.TotalUncategorized)))
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "clustering distance threshold (default from config)")
	cmd.Flags().IntVar(&minSize, "min-size", 0, "minimum cluster size (default from config)")
	return cmd
}

func proposeShowCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current proposal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			proposal, err := store.GetProposal(ctx, currentScope())
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					fmt.Println(cli.SubtleStyle.Render("No proposal yet. Run: spendsort propose recalculate"))
					return nil
				}
				return err
			}

			fmt.Println(cli.FormatTitle(fmt.Sprintf(
				"Proposal: %d clusters, threshold %.2f, updated %s",
				len(proposal.Clusters), proposal.DistanceThreshold,
				proposal.UpdatedAt.Format("2006-01-02 15:04"))))

			for _, cluster := range proposal.Clusters {
				if !all && cluster.Status != model.ClusterPending {
					continue
				}
				line := fmt.Sprintf("%4d  [%s] %-40s %3d txns %10.2f€",
					cluster.ID, statusGlyph(cluster.Status), cluster.RepresentativeLabel,
					len(cluster.TransactionIDs), cluster.TotalAmountAbs)
				if cluster.Suggestion != nil {
					line += cli.SuccessStyle.Render(fmt.Sprintf("  -> %s (%s)",
						cluster.Suggestion.CategoryName, cluster.Suggestion.Confidence))
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include accepted and skipped clusters")
	return cmd
}

func statusGlyph(status model.ClusterStatus) string {
	switch status {
	case model.ClusterAccepted:
		return cli.SuccessStyle.Render("✓")
	case model.ClusterSkipped:
		return cli.SubtleStyle.Render("-")
	default:
		return " "
	}
}

func proposeAcceptCmd() *cobra.Command {
	var categoryID int64
	var rulePattern, customLabel string

	cmd := &cobra.Command{
		Use:   "accept <cluster-id>",
		Short: "Accept a cluster, categorizing its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			clusterID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster id %q", args[0])
			}
			scope := currentScope()

			patch := model.ClusterPatch{ClusterID: clusterID}
			dirty := false
			if categoryID != 0 {
				patch.OverrideCategoryID = &categoryID
				dirty = true
			}
			if cmd.Flags().Changed("rule") {
				patch.RulePattern = &rulePattern
				dirty = true
			}
			if cmd.Flags().Changed("label") {
				patch.CustomLabel = &customLabel
				dirty = true
			}
			if dirty {
				if err := eng.Patch(ctx, scope, []model.ClusterPatch{patch}); err != nil {
					return err
				}
			}

			result, err := eng.Apply(ctx, scope, clusterID)
			if err != nil {
				return err
			}

			msg := fmt.Sprintf("Categorized %d transactions under category %d", result.Categorized, result.CategoryID)
			if result.Rule != nil {
				msg += fmt.Sprintf(", rule %q saved", result.Rule.Pattern)
			}
			fmt.Println(cli.FormatSuccess(msg))
			return nil
		},
	}

	cmd.Flags().Int64Var(&categoryID, "category", 0, "override the suggested category id")
	cmd.Flags().StringVar(&rulePattern, "rule", "", "save a contains-rule with this pattern")
	cmd.Flags().StringVar(&customLabel, "label", "", "clean label applied to the transactions")
	return cmd
}

func proposeSkipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip <cluster-id>",
		Short: "Skip a cluster, leaving its transactions uncategorized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			clusterID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster id %q", args[0])
			}

			status := model.ClusterSkipped
			if err := eng.Patch(cmd.Context(), currentScope(), []model.ClusterPatch{{
				ClusterID: clusterID,
				Status:    &status,
			}}); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Skipped cluster %d", clusterID)))
			return nil
		},
	}
}

func proposeSplitCmd() *cobra.Command {
	var threshold float64
	var noLLM bool

	cmd := &cobra.Command{
		Use:   "split <cluster-id>",
		Short: "Split a cluster into finer groups",
		Long: `Split asks the configured language model for a semantic partition of the
cluster; without one (or when it judges the cluster homogeneous) the
members are re-clustered at a tighter distance threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			clusterID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster id %q", args[0])
			}

			result, err := eng.Split(ctx, currentScope(), clusterID, engine.SplitOptions{
				UseLLM:            !noLLM,
				DistanceThreshold: threshold,
			})
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Split into %d clusters (%s)", len(result.Clusters), result.Method)))
			for _, fragment := range result.Clusters {
				fmt.Printf("  %-40s %3d txns\n", fragment.RepresentativeLabel, len(fragment.TransactionIDs))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "fallback distance threshold (default: half the proposal's)")
	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "skip the language model, split by embedding distance only")
	return cmd
}

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Review pending clusters interactively",
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

			handler := cli.NewInterruptHandler(nil)
			ctx = handler.HandleInterrupts(ctx)

			reviewer := cli.NewReviewer(eng, nil, nil, nil)
			err = reviewer.Run(ctx, store, currentScope())
			if err != nil && errors.Is(err, common.ErrNotFound) {
				fmt.Println(cli.SubtleStyle.Render("No proposal yet. Run: spendsort propose recalculate"))
				return nil
			}
			return err
		},
	}
}
