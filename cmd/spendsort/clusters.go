package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mlecarme/spendsort/internal/cli"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/stats"
)

func clustersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Inspect durable transaction clusters",
	}
	cmd.AddCommand(clustersListCmd())
	cmd.AddCommand(clustersShowCmd())
	cmd.AddCommand(clustersCreateCmd())
	cmd.AddCommand(clustersRefreshCmd())
	return cmd
}

func clustersCreateCmd() *cobra.Command {
	var name string
	var categoryID int64

	cmd := &cobra.Command{
		Use:   "create <transaction-id...>",
		Short: "Create a cluster from a manual selection of transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			scope := currentScope()
			members, err := store.GetTransactionsByIDs(ctx, scope, args)
			if err != nil {
				return err
			}
			if len(members) != len(args) {
				return fmt.Errorf("only %d of %d transactions found", len(members), len(args))
			}

			cluster := &model.TransactionCluster{
				UserID:         scope.UserID,
				Name:           name,
				Source:         model.ClusterSourceManual,
				TransactionIDs: args,
				Stats:          stats.Compute(members),
			}
			if name == "" {
				cluster.Name = members[0].DisplayLabel()
			}
			if categoryID != 0 {
				if _, err := store.GetCategoryByID(ctx, scope.UserID, categoryID); err != nil {
					return err
				}
				cluster.CategoryID = &categoryID
			}

			if err := store.CreateTransactionCluster(ctx, cluster); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created cluster %d (%q)", cluster.ID, cluster.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "cluster name (default: first transaction's label)")
	cmd.Flags().Int64Var(&categoryID, "category", 0, "associate a category")
	return cmd
}

func clustersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List durable clusters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			clusters, err := store.ListTransactionClusters(ctx, currentScope().UserID, nil, nil)
			if err != nil {
				return err
			}
			if len(clusters) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No clusters yet. Accepting proposal clusters creates them."))
				return nil
			}

			fmt.Println(cli.FormatTitle("Clusters"))
			for _, cluster := range clusters {
				line := fmt.Sprintf("%4d  %-40s %3d txns  %s",
					cluster.ID, cluster.Name, len(cluster.TransactionIDs), cluster.Source)
				if cluster.Stats != nil && cluster.Stats.IsRecurring {
					line += cli.SuccessStyle.Render(fmt.Sprintf("  ⟳ %s", cluster.Stats.RecurrencePattern))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func clustersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cluster-id>",
		Short: "Show a cluster with its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster id %q", args[0])
			}

			cluster, err := store.GetTransactionCluster(ctx, currentScope().UserID, id)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatTitle(cluster.Name))
			fmt.Printf("Source: %s, %d transactions\n", cluster.Source, len(cluster.TransactionIDs))
			if cluster.RulePattern != "" {
				fmt.Printf("Rule pattern: %q\n", cluster.RulePattern)
			}

			s := cluster.Stats
			if s == nil {
				fmt.Println(cli.SubtleStyle.Render("No statistics computed yet. Run: spendsort clusters refresh"))
				return nil
			}
			fmt.Printf("Total: %.2f€  avg %.2f€  min %.2f€  max %.2f€  σ %.2f\n",
				s.TotalAmount, s.AvgAmount, s.MinAmount, s.MaxAmount, s.StdDevAmount)
			fmt.Printf("Period: %s to %s\n", s.FirstDate, s.LastDate)
			if s.IsRecurring {
				fmt.Printf("Recurring: %s, every %.1f days on average\n", s.RecurrencePattern, s.AvgDaysBetween)
			}
			if s.Trend != "" {
				fmt.Printf("Trend: %s (slope %.4f€/day)\n", s.Trend, s.TrendSlope)
			}
			if len(s.OutlierIDs) > 0 {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("%d amount outliers", len(s.OutlierIDs))))
				for _, outlier := range s.OutlierIDs {
					fmt.Println(cli.SubtleStyle.Render("  " + outlier))
				}
			}
			return nil
		},
	}
}

func clustersRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [cluster-id]",
		Short: "Recompute cluster statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			scope := currentScope()
			clusters, err := store.ListTransactionClusters(ctx, scope.UserID, nil, nil)
			if err != nil {
				return err
			}

			var only int64
			if len(args) == 1 {
				only, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid cluster id %q", args[0])
				}
			}

			refreshed := 0
			for i := range clusters {
				if only != 0 && clusters[i].ID != only {
					continue
				}
				members, err := store.GetTransactionsByIDs(ctx, scope, clusters[i].TransactionIDs)
				if err != nil {
					return err
				}
				clusters[i].Stats = stats.Compute(members)
				if err := store.UpdateTransactionCluster(ctx, &clusters[i]); err != nil {
					return err
				}
				refreshed++
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Refreshed statistics for %d clusters", refreshed)))
			return nil
		},
	}
}
