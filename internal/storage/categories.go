package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
)

// CreateCategory inserts a category and maintains the denormalized tree
// shortcuts. Level and RootID depend on the generated id, so a root
// category needs a second write patching root_id to itself.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, category *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createCategoryTx(ctx, tx, category); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) createCategoryTx(ctx context.Context, q queryable, category *model.Category) error {
	if category == nil {
		return fmt.Errorf("%w: nil category", common.ErrInvalidRequest)
	}
	if err := validateString(category.Name, "category name"); err != nil {
		return err
	}

	level := 0
	var rootID *int64
	if category.ParentID != nil {
		var parentLevel int
		var parentRoot sql.NullInt64
		err := q.QueryRowContext(ctx,
			`SELECT level, root_id FROM categories WHERE id = ?`, *category.ParentID,
		).Scan(&parentLevel, &parentRoot)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: parent category %d", common.ErrInvalidCategory, *category.ParentID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up parent category: %w", err)
		}
		level = parentLevel + 1
		if parentRoot.Valid {
			rootID = &parentRoot.Int64
		} else {
			rootID = category.ParentID
		}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO categories (user_id, parent_id, root_id, name, description, level, is_system, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, category.UserID, category.ParentID, rootID, category.Name, category.Description,
		level, category.IsSystem, category.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get category id: %w", err)
	}
	category.ID = id
	category.Level = level

	// Root categories point at themselves.
	if rootID == nil {
		if _, err := q.ExecContext(ctx, `UPDATE categories SET root_id = ? WHERE id = ?`, id, id); err != nil {
			return fmt.Errorf("failed to patch root id: %w", err)
		}
		rootID = &id
	}
	category.RootID = rootID
	return nil
}

// GetCategories lists system categories plus the user's own, active first.
func (s *SQLiteStorage) GetCategories(ctx context.Context, userID int64) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCategoriesTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getCategoriesTx(ctx context.Context, q queryable, userID int64) ([]model.Category, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, parent_id, root_id, name, description, level, is_system, is_active, created_at
		FROM categories
		WHERE user_id = ? OR user_id IS NULL
		ORDER BY level, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *category)
	}
	return categories, rows.Err()
}

// GetCategoryByID fetches one category visible to the user.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, userID, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCategoryByIDTx(ctx, s.db, userID, id)
}

func (s *SQLiteStorage) getCategoryByIDTx(ctx context.Context, q queryable, userID, id int64) (*model.Category, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, parent_id, root_id, name, description, level, is_system, is_active, created_at
		FROM categories WHERE id = ? AND (user_id = ? OR user_id IS NULL)
	`, id, userID)

	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %d", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return category, nil
}

// GetCategoryByName fetches a category by exact name, case-insensitive.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, userID int64, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return s.getCategoryByNameTx(ctx, s.db, userID, name)
}

func (s *SQLiteStorage) getCategoryByNameTx(ctx context.Context, q queryable, userID int64, name string) (*model.Category, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, parent_id, root_id, name, description, level, is_system, is_active, created_at
		FROM categories
		WHERE name = ? COLLATE NOCASE AND (user_id = ? OR user_id IS NULL)
		ORDER BY user_id IS NULL
		LIMIT 1
	`, name, userID)

	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %q", common.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return category, nil
}

// GetEnrichedCategories returns the active categories visible to the user
// with their tree context, as consumed by the suggestion waterfall.
func (s *SQLiteStorage) GetEnrichedCategories(ctx context.Context, userID int64) ([]model.EnrichedCategory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getEnrichedCategoriesTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getEnrichedCategoriesTx(ctx context.Context, q queryable, userID int64) ([]model.EnrichedCategory, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.name, COALESCE(p.name, ''), c.description,
			NOT EXISTS (
				SELECT 1 FROM categories child
				WHERE child.parent_id = c.id AND child.is_active = 1
			)
		FROM categories c
		LEFT JOIN categories p ON p.id = c.parent_id
		WHERE c.is_active = 1 AND (c.user_id = ? OR c.user_id IS NULL)
		ORDER BY c.level, c.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enriched categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.EnrichedCategory
	for rows.Next() {
		var c model.EnrichedCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentName, &c.Description, &c.IsLeaf); err != nil {
			return nil, fmt.Errorf("failed to scan enriched category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var (
		category model.Category
		userID   sql.NullInt64
		parentID sql.NullInt64
		rootID   sql.NullInt64
	)

	err := row.Scan(&category.ID, &userID, &parentID, &rootID, &category.Name,
		&category.Description, &category.Level, &category.IsSystem, &category.IsActive, &category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}

	if userID.Valid {
		category.UserID = &userID.Int64
	}
	if parentID.Valid {
		category.ParentID = &parentID.Int64
	}
	if rootID.Valid {
		category.RootID = &rootID.Int64
	}
	return &category, nil
}
