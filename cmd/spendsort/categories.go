package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mlecarme/spendsort/internal/cli"
	"github.com/mlecarme/spendsort/internal/model"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage spending categories",
	}
	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesAddCmd())
	return cmd
}

func categoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the category tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categories, err := store.GetCategories(ctx, currentScope().UserID)
			if err != nil {
				return err
			}
			if len(categories) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No categories yet. Add some with: spendsort categories add"))
				return nil
			}

			fmt.Println(cli.FormatTitle("Categories"))
			for _, cat := range categories {
				indent := strings.Repeat("  ", cat.Level)
				line := fmt.Sprintf("%s%4d  %s", indent, cat.ID, cat.Name)
				if cat.Description != "" {
					line += cli.SubtleStyle.Render("  " + cat.Description)
				}
				if !cat.IsActive {
					line += cli.WarningStyle.Render("  (inactive)")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func categoriesAddCmd() *cobra.Command {
	var parentName, description string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			userID := currentScope().UserID
			cat := &model.Category{
				UserID:      &userID,
				Name:        args[0],
				Description: description,
				IsActive:    true,
			}
			if parentName != "" {
				parent, err := store.GetCategoryByName(ctx, userID, parentName)
				if err != nil {
					return fmt.Errorf("parent category %q: %w", parentName, err)
				}
				cat.ParentID = &parent.ID
			}

			if err := store.CreateCategory(ctx, cat); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created category %q (id %d)", cat.Name, cat.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&parentName, "parent", "", "parent category name")
	cmd.Flags().StringVar(&description, "description", "", "category description, used for semantic matching")
	return cmd
}
