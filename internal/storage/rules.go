package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
)

const ruleColumns = `id, user_id, pattern, match_type, category_id, custom_label,
	priority, is_active, created_by, created_at, updated_at`

// CreateRule inserts a rule and fills in its generated id.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.ClassificationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createRuleTx(ctx, s.db, rule)
}

func (s *SQLiteStorage) createRuleTx(ctx context.Context, q queryable, rule *model.ClassificationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", common.ErrInvalidRequest)
	}
	if err := validateString(rule.Pattern, "pattern"); err != nil {
		return err
	}
	if rule.MatchType == "" {
		rule.MatchType = model.MatchContains
	}
	if rule.CreatedBy == "" {
		rule.CreatedBy = model.OriginManual
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO classification_rules (user_id, pattern, match_type, category_id, custom_label, priority, is_active, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.UserID, rule.Pattern, string(rule.MatchType), rule.CategoryID, rule.CustomLabel,
		rule.Priority, rule.IsActive, string(rule.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule id: %w", err)
	}
	rule.ID = id
	return nil
}

// UpdateRule rewrites a rule's mutable fields, enforcing ownership.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.ClassificationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateRuleTx(ctx, s.db, rule)
}

func (s *SQLiteStorage) updateRuleTx(ctx context.Context, q queryable, rule *model.ClassificationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", common.ErrInvalidRequest)
	}
	if err := validateString(rule.Pattern, "pattern"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE classification_rules
		SET pattern = ?, match_type = ?, category_id = ?, custom_label = ?,
			priority = ?, is_active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, rule.Pattern, string(rule.MatchType), rule.CategoryID, rule.CustomLabel,
		rule.Priority, rule.IsActive, rule.ID, rule.UserID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: rule %d", common.ErrNotFound, rule.ID)
	}
	return nil
}

// DeleteRule removes a rule, enforcing ownership.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, userID, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteRuleTx(ctx, s.db, userID, id)
}

func (s *SQLiteStorage) deleteRuleTx(ctx context.Context, q queryable, userID, id int64) error {
	result, err := q.ExecContext(ctx, `
		DELETE FROM classification_rules WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: rule %d", common.ErrNotFound, id)
	}
	return nil
}

// GetRule fetches one rule, enforcing ownership.
func (s *SQLiteStorage) GetRule(ctx context.Context, userID, id int64) (*model.ClassificationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRuleTx(ctx, s.db, userID, id)
}

func (s *SQLiteStorage) getRuleTx(ctx context.Context, q queryable, userID, id int64) (*model.ClassificationRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM classification_rules WHERE id = ? AND user_id = ?`, ruleColumns)
	rule, err := scanRule(q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %d", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetActiveRules returns the user's active rules in evaluation order:
// descending priority, ties by ascending id.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveRulesTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getActiveRulesTx(ctx context.Context, q queryable, userID int64) ([]model.ClassificationRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM classification_rules
		WHERE user_id = ? AND is_active = 1
		ORDER BY priority DESC, id ASC
	`, ruleColumns)
	return s.queryRules(ctx, q, query, userID)
}

// FindRuleByPattern looks up an active rule by exact pattern,
// case-insensitive. Used by acceptance-time upserts.
func (s *SQLiteStorage) FindRuleByPattern(ctx context.Context, userID int64, pattern string) (*model.ClassificationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(pattern, "pattern"); err != nil {
		return nil, err
	}
	return s.findRuleByPatternTx(ctx, s.db, userID, pattern)
}

func (s *SQLiteStorage) findRuleByPatternTx(ctx context.Context, q queryable, userID int64, pattern string) (*model.ClassificationRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM classification_rules
		WHERE user_id = ? AND pattern = ? COLLATE NOCASE AND is_active = 1
		ORDER BY id LIMIT 1
	`, ruleColumns)
	rule, err := scanRule(q.QueryRowContext(ctx, query, userID, pattern))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule pattern %q", common.ErrNotFound, pattern)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns all rules of a user, active and inactive.
func (s *SQLiteStorage) ListRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listRulesTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) listRulesTx(ctx context.Context, q queryable, userID int64) ([]model.ClassificationRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM classification_rules
		WHERE user_id = ?
		ORDER BY priority DESC, id ASC
	`, ruleColumns)
	return s.queryRules(ctx, q, query, userID)
}

func (s *SQLiteStorage) queryRules(ctx context.Context, q queryable, query string, args ...any) ([]model.ClassificationRule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ruleset []model.ClassificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		ruleset = append(ruleset, *rule)
	}
	return ruleset, rows.Err()
}

func scanRule(row rowScanner) (*model.ClassificationRule, error) {
	var (
		rule      model.ClassificationRule
		matchType string
		createdBy string
	)

	err := row.Scan(&rule.ID, &rule.UserID, &rule.Pattern, &matchType, &rule.CategoryID,
		&rule.CustomLabel, &rule.Priority, &rule.IsActive, &createdBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.MatchType = model.MatchType(matchType)
	rule.CreatedBy = model.RuleOrigin(createdBy)
	return &rule, nil
}
