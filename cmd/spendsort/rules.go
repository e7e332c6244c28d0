package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mlecarme/spendsort/internal/cli"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage deterministic classification rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesDisableCmd())
	cmd.AddCommand(rulesDeleteCmd())
	cmd.AddCommand(rulesApplyCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ruleset, err := store.ListRules(ctx, currentScope().UserID)
			if err != nil {
				return err
			}
			if len(ruleset) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No rules yet. Accepting clusters with a pattern creates them."))
				return nil
			}

			fmt.Println(cli.FormatTitle("Rules"))
			for _, rule := range ruleset {
				line := fmt.Sprintf("%4d  p%-3d %-12s %-30q -> category %d",
					rule.ID, rule.Priority, rule.MatchType, rule.Pattern, rule.CategoryID)
				if !rule.IsActive {
					line += cli.WarningStyle.Render("  (inactive)")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	var matchType string
	var priority int
	var customLabel string

	cmd := &cobra.Command{
		Use:   "add <pattern> <category-id>",
		Short: "Add a rule matching transaction labels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categoryID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid category id %q", args[1])
			}

			switch model.MatchType(matchType) {
			case model.MatchContains, model.MatchExact, model.MatchStartsWith:
			default:
				return fmt.Errorf("invalid match type %q (contains, exact, starts_with)", matchType)
			}

			rule := &model.ClassificationRule{
				UserID:      currentScope().UserID,
				Pattern:     args[0],
				MatchType:   model.MatchType(matchType),
				CategoryID:  categoryID,
				CustomLabel: customLabel,
				Priority:    priority,
				CreatedBy:   model.OriginManual,
				IsActive:    true,
			}
			if err := store.CreateRule(ctx, rule); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created rule %d", rule.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&matchType, "match", "contains", "match type: contains, exact, starts_with")
	cmd.Flags().IntVar(&priority, "priority", 0, "evaluation priority, higher wins")
	cmd.Flags().StringVar(&customLabel, "label", "", "clean label applied to matches")
	return cmd
}

func rulesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <rule-id>",
		Short: "Deactivate a rule without deleting it",
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
				return fmt.Errorf("invalid rule id %q", args[0])
			}

			rule, err := store.GetRule(ctx, currentScope().UserID, id)
			if err != nil {
				return err
			}
			rule.IsActive = false
			if err := store.UpdateRule(ctx, rule); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Disabled rule %d", id)))
			return nil
		},
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
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
				return fmt.Errorf("invalid rule id %q", args[0])
			}
			if err := store.DeleteRule(ctx, currentScope().UserID, id); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted rule %d", id)))
			return nil
		},
	}
}

func rulesApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Run all active rules over uncategorized transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := rules.NewEngine(store, nil).Apply(ctx, currentScope())
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Rules matched %d transactions, %d remain uncategorized",
				result.Matched, result.Remaining)))
			return nil
		},
	}
}
